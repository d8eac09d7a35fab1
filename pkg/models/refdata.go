package models

// CRMField is a custom field defined in the CRM.
type CRMField struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	EntityType string `json:"entity_type"`
}

// PipelineStatus is one stage of a CRM pipeline.
type PipelineStatus struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Pipeline is a CRM sales pipeline with its ordered stages.
type Pipeline struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	Statuses []PipelineStatus `json:"statuses"`
}

// Scheduler is a dialer call-scheduling strategy.
type Scheduler struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Campaign is a dialer campaign grouping buckets.
type Campaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bucket is a dialer queue belonging to a campaign.
type Bucket struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
}

// ReferenceData is the full catalogue of CRM and dialer entities the editor
// offers when configuring nodes.
type ReferenceData struct {
	Fields     []CRMField  `json:"fields"`
	Pipelines  []Pipeline  `json:"pipelines"`
	Schedulers []Scheduler `json:"schedulers"`
	Campaigns  []Campaign  `json:"campaigns"`
	Buckets    []Bucket    `json:"buckets"`
}
