package model

import "time"

// DayReport summarizes one daily collection job.
type DayReport struct {
	WindowID      string `json:"window_id"`
	Day           int    `json:"day"`
	Received      int    `json:"received"`
	New           int    `json:"new"`
	Resighted     int    `json:"resighted"`
	Invalid       int    `json:"invalid"`
	Tier1Passed   int    `json:"tier1_passed"`
	Tier1Rejected int    `json:"tier1_rejected"`
	Tier2Admitted int    `json:"tier2_admitted"`
	Tier2Rejected int    `json:"tier2_rejected"`

	Failures FailureSummary `json:"failures"`
	Usage    TokenUsage     `json:"usage"`
}

// FailureSummary counts work lost to errors, as opposed to items filtered
// out by a threshold.
type FailureSummary struct {
	Tier2FailedBatches int `json:"tier2_failed_batches"`
	Tier2FailedItems   int `json:"tier2_failed_items"`
	Tier3Failed        int `json:"tier3_failed"`
	EntityFailed       int `json:"entity_failed"`
	EmbeddingFailed    int `json:"embedding_failed"`
	BudgetSkipped      int `json:"budget_skipped"`
}

// Lost returns the number of items that did not advance because of an error.
func (f FailureSummary) Lost() int {
	return f.Tier2FailedItems + f.Tier3Failed + f.BudgetSkipped
}

// Add accumulates other into f.
func (f *FailureSummary) Add(other FailureSummary) {
	f.Tier2FailedBatches += other.Tier2FailedBatches
	f.Tier2FailedItems += other.Tier2FailedItems
	f.Tier3Failed += other.Tier3Failed
	f.EntityFailed += other.EntityFailed
	f.EmbeddingFailed += other.EmbeddingFailed
	f.BudgetSkipped += other.BudgetSkipped
}

// SimilarityEvidence records which signals linked a cluster.
type SimilarityEvidence struct {
	TitleSim      float64 `json:"title_sim"`
	ContentSim    float64 `json:"content_sim"`
	EntityJaccard float64 `json:"entity_jaccard"`
}

// DuplicateCluster is a connected component of duplicate edges. It exists
// only during consolidation.
type DuplicateCluster struct {
	MemberIDs        []string           `json:"member_ids"`
	RepresentativeID string             `json:"representative_id"`
	Evidence         SimilarityEvidence `json:"similarity_evidence"`
	SmartMerge       bool               `json:"smart_merge"`
}

// Slice names the part of the output an item was selected into.
type Slice string

const (
	SliceTop     Slice = "top"
	SliceNovelty Slice = "novelty"
)

// OutputRecord is one selected item handed to the reporting layer.
type OutputRecord struct {
	Rank          int                `json:"rank"`
	Slice         Slice              `json:"slice"`
	Item          Item               `json:"item"`
	Tier2Score    float64            `json:"tier2_score"`
	Tier3Scores   map[string]float64 `json:"tier3_scores"`
	Tier3Weighted float64            `json:"tier3_weighted"`
	MergedFrom    []string           `json:"merged_from,omitempty"`
	Provenance    []SourceRef        `json:"provenance,omitempty"`
}

// ScoreDistribution summarizes selected scores.
type ScoreDistribution struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// SelectionStats are aggregate statistics of a consolidation.
type SelectionStats struct {
	TierCounts   map[Status]int        `json:"tier_counts"`
	Discards     map[DiscardReason]int `json:"discards"`
	BeforeDedup  int                   `json:"before_dedup"`
	AfterDedup   int                   `json:"after_dedup"`
	Clusters     int                   `json:"clusters"`
	CrossWindow  int                   `json:"cross_window_suppressed"`
	Candidates   int                   `json:"candidates"`
	Selected     int                   `json:"selected"`
	Novelty      int                   `json:"novelty"`
	Distribution ScoreDistribution     `json:"distribution"`
}

// ConsolidationReport is the output of a consolidation job.
type ConsolidationReport struct {
	WindowID    string         `json:"window_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Records     []OutputRecord `json:"records"`
	Stats       SelectionStats `json:"stats"`
	Failures    FailureSummary `json:"failures"`
	Usage       TokenUsage     `json:"usage"`
}

// Representative is a selected story remembered across windows.
type Representative struct {
	ItemID    string    `json:"item_id"`
	WindowID  string    `json:"window_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
