package storage

import "time"

type LotStatus string

const (
	LotActive LotStatus = "active"
	LotClosed LotStatus = "closed"
)

// WipLot is one fabric intake event. Immutable after generation except for
// the status flag.
type WipLot struct {
	LotNumber    string          `json:"lot_number"`
	FabricType   string          `json:"fabric_type"`
	FabricColor  string          `json:"fabric_color"`
	ReceivedFrom string          `json:"received_from"`
	Status       LotStatus       `json:"status"`
	Rolls        []Roll          `json:"rolls"`
	Articles     []ArticleConfig `json:"articles"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Roll struct {
	RollNumber string  `json:"roll_number"`
	Color      string  `json:"color"`
	LayerCount int     `json:"layer_count"`
	WeightKg   float64 `json:"weight_kg"`
	PieceCount int     `json:"piece_count"`
}

// ArticleConfig carries the raw size/ratio strings as entered at intake.
// Both accept several delimiter characters; the generator does the parsing.
type ArticleConfig struct {
	Article       string `json:"article"`
	GarmentTypeID string `json:"garment_type_id"`
	Sizes         string `json:"sizes"`
	Ratios        string `json:"ratios"`
}

// OperationTemplate is the catalog entry for one garment type: the ordered
// steps a bundle of that type goes through.
type OperationTemplate struct {
	GarmentTypeID string         `json:"garment_type_id"`
	Steps         []TemplateStep `json:"steps"`
}

type TemplateStep struct {
	Operation        string       `json:"operation"`
	MachineType      string       `json:"machine_type"`
	EstimatedMinutes float64      `json:"estimated_minutes"`
	WorkflowKind     WorkflowKind `json:"workflow_kind"`
	// DependsOn references earlier steps by operation name within the same
	// template; the generator translates them into concrete work item ids.
	DependsOn     []string `json:"depends_on"`
	ParallelGroup string   `json:"parallel_group,omitempty"`
}
