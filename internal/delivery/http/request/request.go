package request

// IngestRequest is the body of POST /api/ingest.
type IngestRequest struct {
	TenantID string   `json:"tenant_id"`
	SiteType string   `json:"site_type"`
	URLs     []string `json:"urls"`
}
