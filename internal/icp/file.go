// Package icp loads ICP and campaign definitions from YAML.
package icp

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospector/internal/model"
)

// File is the on-disk layout of an ICP definitions file. Entries without a
// team_id inherit the file's.
type File struct {
	TeamID    string          `yaml:"team_id"`
	ICPs      []ICPEntry      `yaml:"icps"`
	Campaigns []CampaignEntry `yaml:"campaigns"`
}

// ICPEntry is one Ideal Customer Profile definition.
type ICPEntry struct {
	ID            string              `yaml:"id"`
	TeamID        string              `yaml:"team_id"`
	Name          string              `yaml:"name"`
	Demographics  model.Demographics  `yaml:"demographics"`
	Firmographics model.Firmographics `yaml:"firmographics"`
}

// CampaignEntry is one campaign definition.
type CampaignEntry struct {
	ID     string `yaml:"id"`
	TeamID string `yaml:"team_id"`
	ICPID  string `yaml:"icp"`
	Name   string `yaml:"name"`
}

// Load reads and validates a definitions file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "icp: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates definitions, filling inherited team ids.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "icp: parse definitions")
	}

	icpTeams := make(map[string]string, len(f.ICPs))
	for i := range f.ICPs {
		e := &f.ICPs[i]
		if e.ID == "" {
			return nil, eris.New(fmt.Sprintf("icp: entry %d has no id", i))
		}
		if _, dup := icpTeams[e.ID]; dup {
			return nil, eris.New(fmt.Sprintf("icp: duplicate icp id %q", e.ID))
		}
		if e.TeamID == "" {
			e.TeamID = f.TeamID
		}
		if e.TeamID == "" {
			return nil, eris.New(fmt.Sprintf("icp: icp %q has no team_id", e.ID))
		}
		icpTeams[e.ID] = e.TeamID
	}

	seen := make(map[string]bool, len(f.Campaigns))
	for i := range f.Campaigns {
		c := &f.Campaigns[i]
		if c.ID == "" {
			return nil, eris.New(fmt.Sprintf("icp: campaign entry %d has no id", i))
		}
		if seen[c.ID] {
			return nil, eris.New(fmt.Sprintf("icp: duplicate campaign id %q", c.ID))
		}
		seen[c.ID] = true
		if c.TeamID == "" {
			c.TeamID = f.TeamID
		}
		if c.TeamID == "" {
			return nil, eris.New(fmt.Sprintf("icp: campaign %q has no team_id", c.ID))
		}
		// An ICP defined in the same file must belong to the campaign's team.
		if team, ok := icpTeams[c.ICPID]; ok && team != c.TeamID {
			return nil, eris.New(fmt.Sprintf("icp: campaign %q references icp %q of team %q", c.ID, c.ICPID, team))
		}
	}
	return &f, nil
}

// Store persists definitions.
type Store interface {
	UpsertICP(ctx context.Context, icp *model.ICP) error
	UpsertCampaign(ctx context.Context, c *model.Campaign) error
}

// Invalidator drops cached ICP vectors after an ICP changes.
type Invalidator interface {
	Invalidate(ctx context.Context, namespace, id string) error
}

// ImportResult counts upserted definitions.
type ImportResult struct {
	ICPs      int
	Campaigns int
}

// Import upserts every ICP, then every campaign. When cache is non-nil the
// cached vector of each imported ICP is dropped.
func Import(ctx context.Context, st Store, f *File, cache Invalidator) (*ImportResult, error) {
	res := &ImportResult{}
	for _, e := range f.ICPs {
		icp := &model.ICP{
			ID:            e.ID,
			TeamID:        e.TeamID,
			Name:          e.Name,
			Demographics:  e.Demographics,
			Firmographics: e.Firmographics,
		}
		if err := st.UpsertICP(ctx, icp); err != nil {
			return res, eris.Wrapf(err, "icp: upsert icp %s", e.ID)
		}
		res.ICPs++
		if cache != nil {
			if err := cache.Invalidate(ctx, model.ICPNamespace(e.TeamID), e.ID); err != nil {
				zap.L().Warn("icp: cache invalidation failed", zap.String("icp_id", e.ID), zap.Error(err))
			}
		}
	}

	for _, e := range f.Campaigns {
		c := &model.Campaign{ID: e.ID, TeamID: e.TeamID, ICPID: e.ICPID, Name: e.Name}
		if err := st.UpsertCampaign(ctx, c); err != nil {
			return res, eris.Wrapf(err, "icp: upsert campaign %s", e.ID)
		}
		res.Campaigns++
	}

	zap.L().Info("icp definitions imported",
		zap.Int("icps", res.ICPs),
		zap.Int("campaigns", res.Campaigns),
	)
	return res, nil
}
