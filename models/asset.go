package models

// AssetRef is what the ownership indexer reports for one held asset.
type AssetRef struct {
	AssetID   string `json:"asset_id"`
	AssetName string `json:"asset_name"`
	MekNumber int    `json:"mek_number"`
	Rank      int    `json:"rank"`
	Head      string `json:"head,omitempty"`
	Body      string `json:"body,omitempty"`
	Item      string `json:"item,omitempty"`
}

// OwnedMek is one asset as denormalized into a wallet's ledger.
type OwnedMek struct {
	AssetID    string  `json:"asset_id"`
	AssetName  string  `json:"asset_name"`
	MekNumber  int     `json:"mek_number"`
	Rank       int     `json:"rank"`
	Head       string  `json:"head,omitempty"`
	Body       string  `json:"body,omitempty"`
	Item       string  `json:"item,omitempty"`
	Level      int     `json:"level"`
	BaseRate   float64 `json:"base_rate"`
	LevelBoost float64 `json:"level_boost"`
	Rate       float64 `json:"rate"` // base + boost
}

// SnapshotMek is the part of an OwnedMek captured in a snapshot.
type SnapshotMek struct {
	AssetID    string  `json:"asset_id"`
	AssetName  string  `json:"asset_name,omitempty"`
	Rank       int     `json:"rank"`
	Rate       float64 `json:"rate"`
	BaseRate   float64 `json:"base_rate"`
	LevelBoost float64 `json:"level_boost"`
	Level      int     `json:"level"`
}

func (m OwnedMek) ToSnapshot() SnapshotMek {
	return SnapshotMek{
		AssetID:    m.AssetID,
		AssetName:  m.AssetName,
		Rank:       m.Rank,
		Rate:       m.Rate,
		BaseRate:   m.BaseRate,
		LevelBoost: m.LevelBoost,
		Level:      m.Level,
	}
}
