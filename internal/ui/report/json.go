package report

import (
	"encoding/json"
	"time"

	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/grouper"
	"github.com/agent462/drove/internal/health"
)

type jsonOutcome struct {
	Alias    string  `json:"alias"`
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Group    string  `json:"group"`
	Command  string  `json:"command"`
	Status   string  `json:"status"`
	Output   string  `json:"output"`
	Reason   string  `json:"reason,omitempty"`
	Start    string  `json:"start"`
	Duration float64 `json:"duration"`
}

type jsonGroup struct {
	Key     string   `json:"key"`
	Failed  bool     `json:"failed"`
	Norm    bool     `json:"norm,omitempty"`
	Aliases []string `json:"aliases"`
}

type jsonBatch struct {
	Command     string        `json:"command"`
	Homogeneous bool          `json:"homogeneous"`
	Results     []jsonOutcome `json:"results"`
	Groups      []jsonGroup   `json:"groups"`
}

// JSON serializes a batch with its grouping.
func JSON(command string, outcomes []*executor.Outcome, gs *grouper.Groups) ([]byte, error) {
	batch := jsonBatch{
		Command:     command,
		Homogeneous: gs.Homogeneous(),
		Results:     make([]jsonOutcome, len(outcomes)),
		Groups:      make([]jsonGroup, 0, gs.Len()),
	}
	for i, o := range outcomes {
		batch.Results[i] = jsonOutcome{
			Alias:    o.Alias,
			Host:     o.Host,
			Port:     o.Port,
			Group:    o.Group,
			Command:  o.Command,
			Status:   string(o.Status),
			Output:   o.Output,
			Reason:   o.Reason,
			Start:    o.Start.Format(time.RFC3339Nano),
			Duration: o.Seconds(),
		}
	}
	for _, g := range gs.All() {
		batch.Groups = append(batch.Groups, jsonGroup{
			Key:     g.Key,
			Failed:  g.Failed,
			Norm:    g.IsNorm,
			Aliases: g.Aliases,
		})
	}
	return json.MarshalIndent(batch, "", "  ")
}

// HealthJSON serializes health records; unknown metrics are null.
func HealthJSON(records []*health.Record) ([]byte, error) {
	if records == nil {
		records = []*health.Record{}
	}
	return json.MarshalIndent(records, "", "  ")
}
