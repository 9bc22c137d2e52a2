package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors is the strategy table for the product page. Each field is an
// ordered list of CSS selectors; the first one that yields a value wins.
type Selectors struct {
	Title     []string `yaml:"title"`
	StoreName []string `yaml:"store_name"`
	Price     []string `yaml:"price"`

	Gallery    []string `yaml:"gallery"`
	ImageAttrs []string `yaml:"image_attrs"`

	// Tab is the tab title item; tabs are picked by position.
	Tab        []string `yaml:"tab"`
	ReviewsTab int      `yaml:"reviews_tab"`
	ParamsTab  int      `yaml:"params_tab"`
	DetailsTab int      `yaml:"details_tab"`

	EmphasisItem  []string `yaml:"emphasis_item"`
	EmphasisName  []string `yaml:"emphasis_name"`
	EmphasisValue []string `yaml:"emphasis_value"`
	GeneralItem   []string `yaml:"general_item"`
	GeneralName   []string `yaml:"general_name"`
	GeneralValue  []string `yaml:"general_value"`

	DescRoot     []string `yaml:"desc_root"`
	DescFallback []string `yaml:"desc_fallback"`

	Comments      []string `yaml:"comments"`
	ReviewItem    []string `yaml:"review_item"`
	ReviewUser    []string `yaml:"review_user"`
	ReviewContent []string `yaml:"review_content"`
	ReviewMeta    []string `yaml:"review_meta"`
	ReviewPhoto   []string `yaml:"review_photo"`

	QAWrap   []string `yaml:"qa_wrap"`
	QAItem   []string `yaml:"qa_item"`
	Question []string `yaml:"question"`
	Answer   []string `yaml:"answer"`

	ShippingTime     []string `yaml:"shipping_time"`
	ShippingFee      []string `yaml:"shipping_fee"`
	ShippingLocation []string `yaml:"shipping_location"`

	ShopName   []string `yaml:"shop_name"`
	ShopLink   []string `yaml:"shop_link"`
	ShopRating []string `yaml:"shop_rating"`
	ShopLabel  []string `yaml:"shop_label"`

	Guarantee []string `yaml:"guarantee"`

	SKUItem     []string `yaml:"sku_item"`
	SKULabel    []string `yaml:"sku_label"`
	SKUValue    []string `yaml:"sku_value"`
	SKUImage    []string `yaml:"sku_image"`
	StockStatus []string `yaml:"stock_status"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Title:     []string{".mainTitle--R75fTcZL", "[class*='mainTitle--']", ".tb-main-title"},
		StoreName: []string{"#J_SiteNavOpenShop", ".shopName--cSjM9uKk"},
		Price:     []string{".text--LP7Wf49z", "[class*='priceText--']"},

		Gallery:    []string{"#picGalleryEle", ".picGallery--qY53_w0u"},
		ImageAttrs: []string{"src", "data-src", "data-ks-lazyload"},

		Tab:        []string{".tabTitleItem--z4AoobEz"},
		ReviewsTab: 0,
		ParamsTab:  1,
		DetailsTab: 2,

		EmphasisItem:  []string{".emphasisParamsInfoItem--H5Qt3iog"},
		EmphasisName:  []string{".emphasisParamsInfoItemSubTitle--Lzwb8yjJ"},
		EmphasisValue: []string{".emphasisParamsInfoItemTitle--IGClES8z"},
		GeneralItem:   []string{".generalParamsInfoItem--qLqLDVWp"},
		GeneralName:   []string{".generalParamsInfoItemTitle--Fo9kKj5Z"},
		GeneralValue:  []string{".generalParamsInfoItemSubTitle--S4pgp6b9"},

		DescRoot: []string{".desc-root"},
		DescFallback: []string{
			".description",
			".detail-content",
			".desc-content",
			"[class*='desc']",
			"[class*='detail-wrap']",
		},

		Comments:      []string{".comments--ChxC7GEN"},
		ReviewItem:    []string{".Comment--H5QmJwe9"},
		ReviewUser:    []string{".userName--KpyzGX2s"},
		ReviewContent: []string{".content--uonoOhaz"},
		ReviewMeta:    []string{".meta--PLijz6qf"},
		ReviewPhoto:   []string{".photo--ZUITAPZq"},

		QAWrap:   []string{".askAnswerWrap--SOQkB8id"},
		QAItem:   []string{".askAnswerItem--RJKHFPmt"},
		Question: []string{".questionText--cClStSfJ"},
		Answer:   []string{".answer--GB6EGprf"},

		ShippingTime:     []string{".shipping--Obxoxza7"},
		ShippingFee:      []string{".freight--oatKHK1s"},
		ShippingLocation: []string{".deliveryAddrWrap--KgrR00my span"},

		ShopName:   []string{".shopName--cSjM9uKk"},
		ShopLink:   []string{".detailWrap--svoEjPUO"},
		ShopRating: []string{".StoreComprehensiveRating--If5wS20L"},
		ShopLabel:  []string{".storeLabelItem--IcqpWWIy"},

		Guarantee: []string{".guaranteeText--hqmmjLTB"},

		SKUItem:     []string{".skuItem--Z2AJB9Ew"},
		SKULabel:    []string{".ItemLabel--psS1SOyC"},
		SKUValue:    []string{".valueItem--smR4pNt4"},
		SKUImage:    []string{".valueItemImgWrap--ZvA2Cmim img"},
		StockStatus: []string{".quantityTip--zL6BCu6j"},
	}
}

// LoadSelectors returns the default table with any keys present in the YAML
// file at path replacing the built-in entries.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("failed to read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("failed to parse selectors file: %w", err)
	}
	return sel, nil
}

// TabSelectors returns the tab selectors narrowed to the tab at index.
func (s Selectors) TabSelectors(index int) []string {
	out := make([]string, 0, len(s.Tab))
	for _, t := range s.Tab {
		out = append(out, fmt.Sprintf("%s:nth-child(%d)", t, index+1))
	}
	return out
}
