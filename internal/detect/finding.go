package detect

import (
	"time"

	"github.com/google/uuid"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/sigma"
)

// OCSF detection finding identifiers.
const (
	FindingClassUID    = 2004
	findingCategoryUID = 2
	findingActivityID  = 1 // create
)

// newFinding synthesizes the OCSF detection finding for one rule match. The
// triggering event rides along as evidences[0] and the correlation uid links
// back to it.
func newFinding(src *event.Event, rule *sigma.Rule, now time.Time) *event.Event {
	correlationUID := src.UID.String()
	if v, ok := src.Data.Lookup("metadata.uid"); ok {
		if s, ok := v.AsString(); ok && s != "" {
			correlationUID = s
		}
	}

	uid := uuid.Must(uuid.NewV7()).String()
	data := event.Map(map[string]event.Value{
		"class_uid":    event.Int(FindingClassUID),
		"category_uid": event.Int(findingCategoryUID),
		"activity_id":  event.Int(findingActivityID),
		"type_uid":     event.Int(FindingClassUID*100 + findingActivityID),
		"time":         event.Int(now.UnixMilli()),
		"severity_id":  event.Int(rule.Level.SeverityID()),
		"severity":     event.String(string(rule.Level)),
		"metadata": event.Map(map[string]event.Value{
			"uid":             event.String(uid),
			"correlation_uid": event.String(correlationUID),
			"product": event.Map(map[string]event.Value{
				"vendor_name": event.String("StrIEM"),
				"name":        event.String("StrIEM"),
			}),
		}),
		"finding_info": event.Map(map[string]event.Value{
			"uid":   event.String(rule.ID),
			"title": event.String(rule.Title),
			"desc":  event.String(rule.Description),
		}),
		"evidences": event.Array(event.Map(map[string]event.Value{
			"data": src.Data,
		})),
	})

	finding := event.New(data)
	for k, v := range src.Metadata {
		finding.Metadata[k] = v
	}
	finding.Metadata[event.MetaOCSF] = event.Bool(true)
	finding.Metadata[event.MetaStrIEM] = event.Bool(true)
	return finding
}
