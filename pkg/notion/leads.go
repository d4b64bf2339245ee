package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/danielliuzy/cold-call-machine/internal/model"
)

// LeadProperties builds the Notion page properties for a lead. The target
// database is expected to have Name (title), Phone, Website, City, Dedup Key
// (rich text), Score (number), and Status (select) columns.
func LeadProperties(lead model.Lead) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.Name}}},
		},
		"Phone": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.Phone}}},
		},
		"City": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.City}}},
		},
		"Dedup Key": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: lead.DedupKey}}},
		},
		"Score": notionapi.NumberProperty{
			Number: float64(lead.Score),
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(lead.Status)},
		},
	}
	if lead.Website != "" {
		props["Website"] = notionapi.URLProperty{URL: lead.Website}
	}
	return props
}

// findLeadPage looks up an existing page by Dedup Key.
func findLeadPage(ctx context.Context, c Client, dbID string, dedupKey string) (*notionapi.Page, error) {
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Dedup Key",
			RichText: &notionapi.TextFilterCondition{
				Equals: dedupKey,
			},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// ExportLead writes a lead into the Notion database, updating the existing
// page when one with the same dedup key is already present. Returns true when
// a new page was created.
func ExportLead(ctx context.Context, c Client, dbID string, lead model.Lead) (bool, error) {
	existing, err := findLeadPage(ctx, c, dbID, lead.DedupKey)
	if err != nil {
		return false, eris.Wrapf(err, "notion: find lead %s", lead.DedupKey)
	}

	props := LeadProperties(lead)

	if existing != nil {
		_, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{
			Properties: props,
		})
		if err != nil {
			return false, eris.Wrapf(err, "notion: update lead %s", lead.DedupKey)
		}
		return false, nil
	}

	_, err = c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	})
	if err != nil {
		return false, eris.Wrapf(err, "notion: create lead %s", lead.DedupKey)
	}
	return true, nil
}

// ExportLeads exports a batch of leads sequentially (the client is already
// rate limited). Returns the number of pages created.
func ExportLeads(ctx context.Context, c Client, dbID string, leads []model.Lead) (int, error) {
	created := 0
	for _, lead := range leads {
		wasCreated, err := ExportLead(ctx, c, dbID, lead)
		if err != nil {
			return created, err
		}
		if wasCreated {
			created++
		}
	}
	return created, nil
}
