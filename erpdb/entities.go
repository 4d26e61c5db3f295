package erpdb

import (
	"time"

	"github.com/shopspring/decimal"
)

// The operator's ERP schema is fixed and out of our control. We map the
// columns we read and nothing more; no AutoMigrate ever runs against
// this database.

type Store struct {
	Id               string  `gorm:"column:lojavirtual_id;primaryKey;size:36"`
	CompanyId        *string `gorm:"column:empresa_id;size:36"`
	Name             *string `gorm:"column:nome"`
	Code             *string `gorm:"column:codigo"`
	BaseUrl          *string `gorm:"column:urlbase"`
	ApiUser          *string `gorm:"column:apiuser"`
	ApiKey           *string `gorm:"column:apikey"`
	PlatformName     *string `gorm:"column:plataforma_nome"`
	StockId          *string `gorm:"column:estoque_id;size:36"`
	PriceListId      *string `gorm:"column:tabelapreco_id;size:36"`
	CharacteristicId *string `gorm:"column:caracteristicaproduto_id;size:36"`
	Deleted          int     `gorm:"column:flagexcluido"`
}

func (Store) TableName() string { return "lojavirtual" }

type Product struct {
	Id               string              `gorm:"column:produto_id;primaryKey;size:36"`
	CompanyId        string              `gorm:"column:empresa_id;size:36"`
	Code             *string             `gorm:"column:codigo"`
	Name             *string             `gorm:"column:nome"`
	ShortWebText     *string             `gorm:"column:descricaoresumida_web"`
	LongWebText      *string             `gorm:"column:descricaodetalhada_web"`
	CategoryId       *string             `gorm:"column:categoria_id;size:36"`
	BrandId          *string             `gorm:"column:marca_id;size:36"`
	SalePrice        decimal.NullDecimal `gorm:"column:precovenda"`
	UpdatedAt        *time.Time          `gorm:"column:dataalterado"`
	CreatedAt        *time.Time          `gorm:"column:datacadastro"`
	Deleted          int                 `gorm:"column:flagexcluido"`
}

func (Product) TableName() string { return "produto" }

type Category struct {
	Id      string  `gorm:"column:categoria_id;primaryKey;size:36"`
	Name    *string `gorm:"column:nome"`
	Deleted int     `gorm:"column:flagexcluido"`
}

func (Category) TableName() string { return "categoria" }

type Brand struct {
	Id      string  `gorm:"column:marca_id;primaryKey;size:36"`
	Name    *string `gorm:"column:nome"`
	Deleted int     `gorm:"column:flagexcluido"`
}

func (Brand) TableName() string { return "marca" }

// ProductCharacteristic links a product to a characteristic tag. Stores
// that restrict their catalog do so by pointing lojavirtual at one of
// these tags.
type ProductCharacteristic struct {
	Id               string `gorm:"column:produtocaracteristicaproduto_id;primaryKey;size:36"`
	ProductId        string `gorm:"column:produto_id;size:36"`
	CharacteristicId string `gorm:"column:caracteristicaproduto_id;size:36"`
	Deleted          int    `gorm:"column:flagexcluido"`
}

func (ProductCharacteristic) TableName() string { return "produtocaracteristicaproduto" }

type ProductPrice struct {
	Id          string              `gorm:"column:produtotabelapreco_id;primaryKey;size:36"`
	ProductId   string              `gorm:"column:produto_id;size:36"`
	PriceListId string              `gorm:"column:tabelapreco_id;size:36"`
	SalePrice   decimal.NullDecimal `gorm:"column:precovenda"`
	FinalPrice  decimal.NullDecimal `gorm:"column:precofinal"`
	Deleted     int                 `gorm:"column:flagexcluido"`
}

func (ProductPrice) TableName() string { return "produtotabelapreco" }

type ProductStock struct {
	StockId   string              `gorm:"column:estoque_id;primaryKey;size:36"`
	CompanyId string              `gorm:"column:empresa_id;primaryKey;size:36"`
	ProductId string              `gorm:"column:produto_id;primaryKey;size:36"`
	Quantity  decimal.NullDecimal `gorm:"column:quantidade"`
}

func (ProductStock) TableName() string { return "produtoestoque" }

type User struct {
	Id         int        `gorm:"column:usuario_id;primaryKey"`
	Name       string     `gorm:"column:nome"`
	Email      *string    `gorm:"column:email"`
	Password   *string    `gorm:"column:senha"`
	Privileged int        `gorm:"column:flagprivilegiado"`
	CreatedAt  *time.Time `gorm:"column:datacadastro"`
	UpdatedAt  *time.Time `gorm:"column:dataalterado"`
	Deleted    int        `gorm:"column:flagexcluido"`
}

func (User) TableName() string { return "usuario" }

// SessionToken rows double as bearer tokens: the primary key itself is
// the opaque token handed to the client. flagpersistente 0 is an access
// token, 1 is a refresh token.
type SessionToken struct {
	Id          string     `gorm:"column:usuariosessaotoken_id;primaryKey;size:36"`
	UserId      *string    `gorm:"column:usuario_id"`
	Application *string    `gorm:"column:aplicativo"`
	Version     *string    `gorm:"column:versao"`
	Login       *string    `gorm:"column:login"`
	Machine     *string    `gorm:"column:maquina;size:100"`
	ConnId      *string    `gorm:"column:conn_id"`
	LoginAt     *time.Time `gorm:"column:datahoralogin"`
	WebService  int        `gorm:"column:flagwebservice"`
	Persistent  int        `gorm:"column:flagpersistente"`
}

func (SessionToken) TableName() string { return "usuariosessaotoken" }
