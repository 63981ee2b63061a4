package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

type Category string

const (
	CategoryUnclassified       Category = "UNCLASSIFIED"
	CategoryPreliminaryWorks   Category = "PRELIMINARY_WORKS"
	CategoryFoundation         Category = "FOUNDATION"
	CategoryStructure          Category = "STRUCTURE"
	CategorySuperstructure     Category = "SUPERSTRUCTURE"
	CategoryMasonry            Category = "MASONRY"
	CategoryLevelingAndSealing Category = "LEVELING_AND_WATERPROOFING"
	CategoryWaterproofing      Category = "WATERPROOFING"
	CategoryFloorCovering      Category = "FLOOR_COVERING"
	CategoryWallCovering       Category = "WALL_COVERING"
	CategoryCeilingCovering    Category = "CEILING_COVERING"
	CategoryFacadeCovering     Category = "FACADE_COVERING"
	CategoryPainting           Category = "PAINTING"
	CategoryWoodFrames         Category = "WOOD_FRAMES"
	CategoryAluminumGlass      Category = "ALUMINUM_GLASS_FRAMES"
	CategoryStoneWork          Category = "GRANITE_MARBLE"
	CategorySanitaryWare       Category = "SANITARY_WARE_AND_FITTINGS"
	CategoryPools              Category = "POOLS"
	CategoryLandscaping        Category = "LANDSCAPING"
	CategoryRoofing            Category = "ROOFING"
	CategoryPaving             Category = "PAVING"
	CategoryRetainingWorks     Category = "RETAINING_WORKS"
	CategoryDrainage           Category = "DRAINAGE"
	CategoryComplementary      Category = "COMPLEMENTARY_SERVICES"
	CategoryPlumbing           Category = "PLUMBING"
	CategorySewage             Category = "SEWAGE"
	CategoryElectrical         Category = "ELECTRICAL"
	CategoryGas                Category = "GAS"
	CategoryData               Category = "DATA_NETWORK"
	CategoryCCTV               Category = "CCTV"
	CategoryAirConditioning    Category = "AIR_CONDITIONING"
	CategoryFireProtection     Category = "FIRE_PROTECTION"
	CategoryLightningRod       Category = "LIGHTNING_PROTECTION"
	CategoryElevator           Category = "ELEVATOR"
	CategoryMiscellaneous      Category = "MISCELLANEOUS"

	// CategoryLegacy marks stored values outside the closed set. It is only
	// produced by ParseCategory and never accepted on create.
	CategoryLegacy Category = "LEGACY"
)

var categories = []Category{
	CategoryUnclassified, CategoryPreliminaryWorks, CategoryFoundation, CategoryStructure,
	CategorySuperstructure, CategoryMasonry, CategoryLevelingAndSealing, CategoryWaterproofing,
	CategoryFloorCovering, CategoryWallCovering, CategoryCeilingCovering, CategoryFacadeCovering,
	CategoryPainting, CategoryWoodFrames, CategoryAluminumGlass, CategoryStoneWork,
	CategorySanitaryWare, CategoryPools, CategoryLandscaping, CategoryRoofing, CategoryPaving,
	CategoryRetainingWorks, CategoryDrainage, CategoryComplementary, CategoryPlumbing,
	CategorySewage, CategoryElectrical, CategoryGas, CategoryData, CategoryCCTV,
	CategoryAirConditioning, CategoryFireProtection, CategoryLightningRod, CategoryElevator,
	CategoryMiscellaneous,
}

// labels used by the ERP export and older spreadsheets
var categoryLabels = map[string]Category{
	"A CLASSIFICAR":                     CategoryUnclassified,
	"SERVIÇOS PRELIMINARES":             CategoryPreliminaryWorks,
	"FUNDAÇÃO":                          CategoryFoundation,
	"ESTRUTURA":                         CategoryStructure,
	"SUPERESTRUTURA":                    CategorySuperstructure,
	"ALVENARIA/FECHAMENTO":              CategoryMasonry,
	"REGULARIZAÇÃO E IMPERMEABILIZAÇÃO": CategoryLevelingAndSealing,
	"IMPERMEABILIZAÇÃO":                 CategoryWaterproofing,
	"REVESTIMENTO DE PISO":              CategoryFloorCovering,
	"REVESTIMENTO DE PAREDE":            CategoryWallCovering,
	"REVESTIMENTO DE TETO":              CategoryCeilingCovering,
	"REVESTIMENTO DE FACHADA":           CategoryFacadeCovering,
	"PINTURA":                           CategoryPainting,
	"ESQUADRIA MADEIRA":                 CategoryWoodFrames,
	"ESQUADRIA ALUMÍNIO/VIDRO":          CategoryAluminumGlass,
	"GRANITO/MÁRMORE":                   CategoryStoneWork,
	"LOUÇAS E METAIS":                   CategorySanitaryWare,
	"PISCINAS INDIVIDUAIS":              CategoryPools,
	"PAISAGISMO":                        CategoryLandscaping,
	"COBERTA":                           CategoryRoofing,
	"PAVIMENTAÇÃO":                      CategoryPaving,
	"OBRAS DE CONTENÇÃO":                CategoryRetainingWorks,
	"DRENAGEM":                          CategoryDrainage,
	"SERVIÇOS COMPLEMENTARES":           CategoryComplementary,
	"INSTALAÇÕES HIDRÁULICA":            CategoryPlumbing,
	"INSTALAÇÕES ESGOTO":                CategorySewage,
	"INSTALAÇÕES ELÉTRICA":              CategoryElectrical,
	"INSTALAÇÕES GÁS":                   CategoryGas,
	"INSTALAÇÕES DADOS":                 CategoryData,
	"INSTALAÇÕES CFTV":                  CategoryCCTV,
	"INSTALAÇÕES AR CONDICIONADO":       CategoryAirConditioning,
	"INSTALAÇÕES PREVENÇÃO DE INCÊNDIO": CategoryFireProtection,
	"INSTALAÇÕES SPDA":                  CategoryLightningRod,
	"INSTALAÇÕES ELEVADOR":              CategoryElevator,
	"DIVERSOS":                          CategoryMiscellaneous,
}

func (c Category) IsValid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps a stored or imported value onto the closed set.
// Blank input is UNCLASSIFIED; anything unrecognized is LEGACY.
func ParseCategory(raw string) Category {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return CategoryUnclassified
	}
	if c := Category(s); c.IsValid() {
		return c
	}
	if c, ok := categoryLabels[s]; ok {
		return c
	}
	return CategoryLegacy
}

// Value implements the driver.Valuer interface
func (c Category) Value() (driver.Value, error) {
	return string(c), nil
}

// Scan implements the sql.Scanner interface. Stored values outside the
// closed set come back as LEGACY.
func (c *Category) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*c = CategoryUnclassified
	case string:
		*c = ParseCategory(v)
	case []byte:
		*c = ParseCategory(string(v))
	default:
		return fmt.Errorf("cannot convert %T to Category", value)
	}
	return nil
}

func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type LocationType string

const (
	LocationTypeBlock  LocationType = "BLOCK"
	LocationTypeFloor  LocationType = "FLOOR"
	LocationTypeUnit   LocationType = "UNIT"
	LocationTypeSector LocationType = "SECTOR"
	LocationTypeOther  LocationType = "OTHER"
)

func (t LocationType) IsValid() bool {
	switch t {
	case LocationTypeBlock, LocationTypeFloor, LocationTypeUnit, LocationTypeSector, LocationTypeOther:
		return true
	}
	return false
}

// Stage is the derived procurement state of a planning row, listed in
// increasing completion order.
type Stage string

const (
	StageUnclassified       Stage = "UNCLASSIFIED_LEVANTAMENTO"
	StageRequested          Stage = "REQUESTED"
	StageOrdered            Stage = "ORDERED"
	StageAwaitingDelivery   Stage = "AWAITING_DELIVERY"
	StageOverdue            Stage = "OVERDUE"
	StagePartiallyReceived  Stage = "PARTIALLY_RECEIVED"
	StageAwaitingAllocation Stage = "AWAITING_ALLOCATION"
	StagePartiallyAllocated Stage = "PARTIALLY_ALLOCATED"
	StageDelivered          Stage = "DELIVERED"
)

// Tier is the display colour of a stage.
type Tier string

const (
	TierWhite  Tier = "WHITE"
	TierRed    Tier = "RED"
	TierBlue   Tier = "BLUE"
	TierYellow Tier = "YELLOW"
	TierOrange Tier = "ORANGE"
	TierGreen  Tier = "GREEN"
)

var stageTiers = map[Stage]Tier{
	StageUnclassified:       TierWhite,
	StageRequested:          TierRed,
	StageOrdered:            TierBlue,
	StageAwaitingDelivery:   TierBlue,
	StageOverdue:            TierRed,
	StagePartiallyReceived:  TierYellow,
	StageAwaitingAllocation: TierYellow,
	StagePartiallyAllocated: TierOrange,
	StageDelivered:          TierGreen,
}

func (s Stage) Tier() Tier {
	if t, ok := stageTiers[s]; ok {
		return t
	}
	return TierWhite
}

// Party is who must act next on a planning row.
type Party string

const (
	PartyNone        Party = ""
	PartyEngineering Party = "ENGINEERING"
	PartyPurchasing  Party = "PURCHASING"
	PartyWarehouse   Party = "WAREHOUSE"
	PartySupplier    Party = "SUPPLIER"
)

type ReceiptState string

const (
	ReceiptAwaitingPurchaseOrder ReceiptState = "AWAITING_PURCHASE_ORDER"
	ReceiptAwaitingDelivery      ReceiptState = "AWAITING_DELIVERY"
	ReceiptPartial               ReceiptState = "PARTIAL"
	ReceiptComplete              ReceiptState = "COMPLETE"
)

type HistoryType string

const (
	HistoryTypeCreate       HistoryType = "CREATE"
	HistoryTypeEdit         HistoryType = "EDIT"
	HistoryTypeAllocation   HistoryType = "ALLOCATION"
	HistoryTypeDeallocation HistoryType = "DEALLOCATION"
	HistoryTypeImport       HistoryType = "IMPORT"
	HistoryTypeDelete       HistoryType = "DELETE"
)
