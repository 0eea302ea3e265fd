package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// localCatalog serves draft photos from a directory on disk. A draft's photos
// live under <root>/<owner>/<draft>/ and are uploaded in lexical order, so
// operators control ordering with filename prefixes.
type localCatalog struct {
	root string
}

func (c localCatalog) GetDraftPhotos(_ context.Context, ownerID, draftID string) ([]string, error) {
	dir := filepath.Join(c.root, ownerID, draftID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading draft photos: %w", err)
	}
	var photos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			photos = append(photos, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(photos)
	return photos, nil
}

// MarkPublished drops a published.json marker next to the draft's photos so
// the listing can be traced back from the filesystem.
func (c localCatalog) MarkPublished(_ context.Context, ownerID, draftID, listingID, url string) error {
	marker := struct {
		ListingID   string    `json:"listing_id"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"published_at"`
	}{ListingID: listingID, URL: url, PublishedAt: time.Now().UTC()}

	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(c.root, ownerID, draftID, "published.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing published marker: %w", err)
	}
	log.Info().
		Str("draft_id", draftID).
		Str("listing_id", listingID).
		Msg("draft marked as published")
	return nil
}
