package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConfigStatus статус конфигурации сайта
type ConfigStatus string

const (
	StatusDraft     ConfigStatus = "draft"
	StatusPublished ConfigStatus = "published"
)

// MaxCategoryDepth максимальная вложенность категорий (корень = 1)
const MaxCategoryDepth = 3

// CategoryType определяет раскладку категории на странице
type CategoryType string

const (
	CategoryFeed       CategoryType = "feed"
	CategoryGrid       CategoryType = "grid"
	CategoryLookbook   CategoryType = "lookbook"
	CategoryLinks      CategoryType = "links"
	CategoryCollection CategoryType = "collection"
)

// CardType определяет тип карточек внутри категории
type CardType string

const (
	CardInstagram CardType = "instagram"
	CardTikTok    CardType = "tiktok"
	CardMedia     CardType = "media"
	CardProduct   CardType = "product"
	CardLookbook  CardType = "lookbook"
	CardLink      CardType = "link"
	CardCategory  CardType = "category"
)

// allowedCardTypes допустимые пары тип категории -> тип карточек
var allowedCardTypes = map[CategoryType][]CardType{
	CategoryFeed:       {CardInstagram, CardTikTok, CardMedia},
	CategoryGrid:       {CardProduct},
	CategoryLookbook:   {CardLookbook},
	CategoryLinks:      {CardLink},
	CategoryCollection: {CardProduct, CardCategory},
}

// AllowsCardType проверяет пару тип категории / тип карточек
func (t CategoryType) AllowsCardType(card CardType) bool {
	for _, c := range allowedCardTypes[t] {
		if c == card {
			return true
		}
	}
	return false
}

// SiteConfig документ, описывающий страницу мерчанта
type SiteConfig struct {
	ID          string       `json:"id"`
	ShopDomain  string       `json:"shop_domain" validate:"required,max=255"`
	Version     int          `json:"version" validate:"gte=0"`
	Status      ConfigStatus `json:"status" validate:"omitempty,oneof=draft published"`
	Categories  []Category   `json:"categories" validate:"max=50,dive"`
	Settings    Settings     `json:"settings"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
}

// Category узел дерева категорий. Пара CategoryType/CardType образует размеченное объединение
type Category struct {
	ID           string       `json:"id" validate:"required,max=64"`
	Name         string       `json:"name" validate:"required,max=100"`
	CategoryType CategoryType `json:"category_type" validate:"required,oneof=feed grid lookbook links collection"`
	CardType     CardType     `json:"card_type" validate:"required,oneof=instagram tiktok media product lookbook link category"`
	Visible      bool         `json:"visible"`
	Order        int          `json:"order" validate:"gte=0"`
	Items        []Card       `json:"items" validate:"max=500,dive"`
	Children     []Category   `json:"children,omitempty" validate:"max=50,dive"`
}

// Card элемент категории
type Card struct {
	ID          string   `json:"id" validate:"required,max=64"`
	Type        CardType `json:"type" validate:"required,oneof=instagram tiktok media product lookbook link category"`
	Title       string   `json:"title,omitempty" validate:"max=200"`
	Description string   `json:"description,omitempty" validate:"max=2000"`
	Media       []Media  `json:"media,omitempty" validate:"max=20,dive"`
	Link        string   `json:"link,omitempty" validate:"omitempty,url"`
	ProductIDs  []string `json:"product_ids,omitempty" validate:"max=50"`
	Price       *Money   `json:"price,omitempty"`
	Source      string   `json:"source,omitempty" validate:"omitempty,oneof=instagram tiktok upload shopify cloudinary"`
	ExternalID  string   `json:"external_id,omitempty" validate:"max=128"`
}

// Media изображение или видео карточки
type Media struct {
	Type      string `json:"type" validate:"required,oneof=image video"`
	URL       string `json:"url" validate:"required,url"`
	Thumbnail string `json:"thumbnail,omitempty" validate:"omitempty,url"`
	Width     int    `json:"width,omitempty" validate:"gte=0"`
	Height    int    `json:"height,omitempty" validate:"gte=0"`
	Alt       string `json:"alt,omitempty" validate:"max=300"`
}

// Settings общие настройки страницы
type Settings struct {
	Theme    Theme    `json:"theme"`
	SEO      SEO      `json:"seo"`
	Brand    Brand    `json:"brand"`
	Checkout Checkout `json:"checkout"`
	Currency string   `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
}

type Theme struct {
	PrimaryColor    string `json:"primary_color,omitempty" validate:"omitempty,hexcolor"`
	BackgroundColor string `json:"background_color,omitempty" validate:"omitempty,hexcolor"`
	TextColor       string `json:"text_color,omitempty" validate:"omitempty,hexcolor"`
	FontFamily      string `json:"font_family,omitempty" validate:"max=64"`
	Layout          string `json:"layout,omitempty" validate:"omitempty,oneof=grid list masonry"`
}

type SEO struct {
	Title       string `json:"title,omitempty" validate:"max=70"`
	Description string `json:"description,omitempty" validate:"max=160"`
	OGImage     string `json:"og_image,omitempty" validate:"omitempty,url"`
}

type Brand struct {
	Name      string `json:"name,omitempty" validate:"max=100"`
	LogoURL   string `json:"logo_url,omitempty" validate:"omitempty,url"`
	Instagram string `json:"instagram,omitempty" validate:"max=64"`
	TikTok    string `json:"tiktok,omitempty" validate:"max=64"`
}

// Checkout определяет, куда ведут карточки товаров
type Checkout struct {
	Mode      string `json:"mode,omitempty" validate:"omitempty,oneof=cart direct"`
	CustomURL string `json:"custom_url,omitempty" validate:"omitempty,url"`
}

// ConfigVersion снимок конфигурации, сохраняемый при каждом изменении
type ConfigVersion struct {
	ID         string      `json:"id"`
	ConfigID   string      `json:"config_id"`
	Version    int         `json:"version"`
	Data       *SiteConfig `json:"data"`
	ChangeNote string      `json:"change_note,omitempty"`
	CreatedBy  string      `json:"created_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Walk обходит дерево категорий в глубину. Обход прекращается, если fn вернет false
func (c *SiteConfig) Walk(fn func(cat *Category, depth int) bool) {
	walkCategories(c.Categories, 1, fn)
}

func walkCategories(cats []Category, depth int, fn func(cat *Category, depth int) bool) bool {
	for i := range cats {
		if !fn(&cats[i], depth) {
			return false
		}
		if !walkCategories(cats[i].Children, depth+1, fn) {
			return false
		}
	}
	return true
}

// FindCategory возвращает указатель на категорию в дереве или nil
func (c *SiteConfig) FindCategory(id string) *Category {
	var found *Category
	c.Walk(func(cat *Category, _ int) bool {
		if cat.ID == id {
			found = cat
			return false
		}
		return true
	})
	return found
}

// Normalize назначает недостающие ID, обрезает пробелы и упорядочивает категории по Order
func (c *SiteConfig) Normalize() {
	c.ShopDomain = strings.ToLower(strings.TrimSpace(c.ShopDomain))
	c.Settings.Currency = strings.ToUpper(strings.TrimSpace(c.Settings.Currency))
	normalizeCategories(c.Categories)
}

func normalizeCategories(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Order < cats[j].Order })

	for i := range cats {
		cat := &cats[i]
		if cat.ID == "" {
			cat.ID = uuid.NewString()
		}
		cat.Name = strings.TrimSpace(cat.Name)
		cat.Order = i
		if cat.Items == nil {
			cat.Items = []Card{}
		}
		for j := range cat.Items {
			if cat.Items[j].ID == "" {
				cat.Items[j].ID = uuid.NewString()
			}
			if cat.Items[j].Type == "" {
				cat.Items[j].Type = cat.CardType
			}
		}
		normalizeCategories(cat.Children)
	}
}

// Clone возвращает глубокую копию конфигурации
func (c *SiteConfig) Clone() *SiteConfig {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var out SiteConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}
