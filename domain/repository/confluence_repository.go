package repository

import (
	"context"
	"fmt"

	goconfluence "github.com/virtomize/confluence-go-api"
)

type ConfluenceRepository struct {
	domain     string
	ancestorID string
	spaceKey   string
	client     *goconfluence.API
}

func NewConfluenceRepository(domain, user, password, spaceKey, ancestorID string) (*ConfluenceRepository, error) {
	api, err := goconfluence.NewAPI(
		fmt.Sprintf("https://%s.atlassian.net/wiki/rest/api", domain),
		user,
		password)
	if err != nil {
		return nil, fmt.Errorf("failed to create confluence api: %w", err)
	}

	return &ConfluenceRepository{
		domain:     domain,
		ancestorID: ancestorID,
		spaceKey:   spaceKey,
		client:     api,
	}, nil
}

// ExportPostMortem はインシデントのポストモーテムページを作成してURLを返す
func (c *ConfluenceRepository) ExportPostMortem(ctx context.Context, title, body string) (string, error) {
	data := &goconfluence.Content{
		Type:  "page",
		Title: title,
		Body: goconfluence.Body{
			Storage: goconfluence.Storage{
				Value:          body,
				Representation: "storage",
			},
		},
		Version: &goconfluence.Version{ // mandatory
			Number: 1,
		},
	}
	if c.ancestorID != "" {
		data.Ancestors = append(data.Ancestors, goconfluence.Ancestor{
			ID: c.ancestorID,
		})
	}

	if c.spaceKey != "" {
		data.Space = &goconfluence.Space{
			Key: c.spaceKey,
		}
	}

	content, err := c.client.CreateContent(data)
	if err != nil {
		return "", fmt.Errorf("failed to create confluence page: %w", err)
	}

	return fmt.Sprintf("https://%s.atlassian.net/wiki/spaces/%s/pages/%s", c.domain, c.spaceKey, content.ID), nil
}
