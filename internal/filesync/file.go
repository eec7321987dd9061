package filesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jivedev/jive/internal/types"
)

// FileVersion is stamped into metadata.file_version on every export.
const FileVersion = "1.0"

// Format is the on-disk encoding of a work-item file.
type Format string

// Format constants.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath infers the encoding from the file extension. JSON is the
// default for unknown extensions.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Ext returns the canonical extension including the dot.
func (f Format) Ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// fileItem is the serialized shape of a work item on disk. Field order here
// is the order keys appear in exported files.
type fileItem struct {
	ID                 string            `json:"id" yaml:"id"`
	Title              string            `json:"title" yaml:"title"`
	Type               string            `json:"type" yaml:"type"`
	Description        string            `json:"description,omitempty" yaml:"description,omitempty"`
	Status             string            `json:"status,omitempty" yaml:"status,omitempty"`
	Priority           string            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Complexity         string            `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	ParentID           string            `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Dependencies       []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	Progress           float64           `json:"progress_percentage,omitempty" yaml:"progress_percentage,omitempty"`
	Assignee           string            `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Tags               []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt          string            `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt          string            `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Parse decodes file content into a work item. Missing status and priority
// receive defaults so validation can run; required fields are checked by
// the caller via Validate.
func Parse(content []byte, format Format) (*types.WorkItem, error) {
	var fi fileItem
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(content, &fi)
	default:
		err = json.Unmarshal(content, &fi)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s work item: %w", format, err)
	}

	item := &types.WorkItem{
		ID:                 fi.ID,
		Title:              fi.Title,
		Type:               types.ItemType(fi.Type),
		Description:        fi.Description,
		Status:             types.Status(fi.Status),
		Priority:           types.Priority(fi.Priority),
		Complexity:         types.Complexity(fi.Complexity),
		ParentID:           fi.ParentID,
		Dependencies:       fi.Dependencies,
		AcceptanceCriteria: fi.AcceptanceCriteria,
		ProgressPercentage: fi.Progress,
		Assignee:           fi.Assignee,
		Tags:               fi.Tags,
		Metadata:           fi.Metadata,
	}
	if fi.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, fi.CreatedAt); err == nil {
			item.CreatedAt = t
		} else if t, err := time.Parse(time.RFC3339, fi.CreatedAt); err == nil {
			item.CreatedAt = t
		}
	}
	if fi.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, fi.UpdatedAt); err == nil {
			item.UpdatedAt = t
		} else if t, err := time.Parse(time.RFC3339, fi.UpdatedAt); err == nil {
			item.UpdatedAt = t
		}
	}

	if item.Status == "" {
		item.Status = types.StatusNotStarted
	}
	if item.Priority == "" {
		item.Priority = types.PriorityMedium
	}
	return item, nil
}

// Serialize encodes a work item for export. JSON uses 2-space indent; YAML
// uses block style. metadata.last_synced and metadata.file_version are
// stamped on the way out.
func Serialize(item *types.WorkItem, format Format, syncedAt time.Time) ([]byte, error) {
	meta := make(map[string]string, len(item.Metadata)+2)
	for k, v := range item.Metadata {
		meta[k] = v
	}
	meta["last_synced"] = syncedAt.UTC().Format(time.RFC3339Nano)
	meta["file_version"] = FileVersion

	fi := fileItem{
		ID:                 item.ID,
		Title:              item.Title,
		Type:               string(item.Type),
		Description:        item.Description,
		Status:             string(item.Status),
		Priority:           string(item.Priority),
		Complexity:         string(item.Complexity),
		ParentID:           item.ParentID,
		Dependencies:       item.Dependencies,
		AcceptanceCriteria: item.AcceptanceCriteria,
		Progress:           item.ProgressPercentage,
		Assignee:           item.Assignee,
		Tags:               item.Tags,
		Metadata:           meta,
		CreatedAt:          formatStamp(item.CreatedAt),
		UpdatedAt:          formatStamp(item.UpdatedAt),
	}

	if format == FormatYAML {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&fi); err != nil {
			return nil, fmt.Errorf("serialize yaml work item: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	out, err := json.MarshalIndent(&fi, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize json work item: %w", err)
	}
	return append(out, '\n'), nil
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// TargetPath builds the default export location under root:
// <type>/<id>_<slugified title><ext>.
func TargetPath(root string, item *types.WorkItem, format Format) string {
	name := item.ID + "_" + Slugify(item.Title) + format.Ext()
	return filepath.Join(root, string(item.Type), name)
}

// Slugify lowercases and collapses anything outside [a-z0-9] into single
// hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
