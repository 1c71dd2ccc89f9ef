// Package models defines the data types exchanged with the backend server.
package models

import "time"

// Account represents a connected cloud-storage account.
type Account struct {
	Key        string    `json:"key"`
	Alias      string    `json:"alias"`
	Email      string    `json:"email"`
	Provider   string    `json:"provider"`
	Status     string    `json:"status"`
	QuotaUsed  int64     `json:"quotaUsed"`
	QuotaTotal int64     `json:"quotaTotal"`
	LastSyncAt time.Time `json:"lastSyncAt"`
}

// FileItem represents a single file entry in search results.
type FileItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	AccountKey   string    `json:"accountKey"`
	ParentID     string    `json:"parentId"`
	MD5          string    `json:"md5"`
	ModifiedTime time.Time `json:"modifiedTime"`
	WebViewLink  string    `json:"webViewLink"`
}

// Pagination describes the cursor state of a paginated response.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalPages int  `json:"totalPages"`
	TotalItems int  `json:"totalItems"`
	HasPrev    bool `json:"hasPrev"`
	HasNext    bool `json:"hasNext"`
}

// SearchResult is a page of file search results.
type SearchResult struct {
	Items      []FileItem `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// SearchFilters are the optional query parameters of a file search
// (owner, mime type, size bounds, date bounds).
type SearchFilters map[string]string

// Clone returns an independent copy of the filters. Async search tasks get a
// snapshot so later filter edits cannot race with an in-flight request.
func (f SearchFilters) Clone() SearchFilters {
	if f == nil {
		return nil
	}
	out := make(SearchFilters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// BackendHealth is the payload of the health probe endpoint.
type BackendHealth struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Timestamp   string `json:"timestamp"`
}

// SyncStatus describes the sync progress of one account.
type SyncStatus struct {
	AccountKey   string    `json:"accountKey"`
	State        string    `json:"state"`
	FilesIndexed int64     `json:"filesIndexed"`
	LastSyncAt   time.Time `json:"lastSyncAt"`
}

// DedupGroup is one group of duplicate files in the dedup report.
type DedupGroup struct {
	Hash      string     `json:"hash"`
	Size      int64      `json:"size"`
	Count     int        `json:"count"`
	Wasted    int64      `json:"wasted"`
	Files     []FileItem `json:"files"`
	GroupedBy string     `json:"groupedBy"`
}

// StorageReport summarizes storage usage, optionally for one account.
type StorageReport struct {
	AccountKey string           `json:"accountKey"`
	TotalBytes int64            `json:"totalBytes"`
	TotalFiles int64            `json:"totalFiles"`
	ByMimeType map[string]int64 `json:"byMimeType"`
	ByAccount  map[string]int64 `json:"byAccount"`
}

// HealthReport is the aggregated system health report, distinct from the
// lightweight health probe used by the connection monitor.
type HealthReport struct {
	Status          string `json:"status"`
	AccountsTotal   int    `json:"accountsTotal"`
	AccountsHealthy int    `json:"accountsHealthy"`
	IndexedFiles    int64  `json:"indexedFiles"`
	IndexAgeSeconds int64  `json:"indexAgeSeconds"`
}

// SyncPerformance summarizes recent sync timings across accounts.
type SyncPerformance struct {
	AvgDurationMs int64            `json:"avgDurationMs"`
	ByAccount     map[string]int64 `json:"byAccount"`
	WindowDays    int              `json:"windowDays"`
}
