package mqtt

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

type runStatus struct {
	RunID   string `json:"run_id"`
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// RunStatusPublisher announces finished runs on sprinklers/status/run.
type RunStatusPublisher struct {
	pub publisher
	qos byte
}

func NewRunStatusPublisher(c *Client) *RunStatusPublisher {
	return &RunStatusPublisher{pub: c, qos: byte(c.cfg.QoS)}
}

func (p *RunStatusPublisher) RunStarted(supervisor.RunInfo) {}

func (p *RunStatusPublisher) RunFinished(info supervisor.RunInfo, outcome supervisor.Outcome, err error) {
	s := runStatus{
		RunID:   info.ID,
		Kind:    string(info.Kind),
		Target:  info.Target,
		Outcome: string(outcome),
	}
	if err != nil {
		s.Error = err.Error()
	}

	b, _ := json.Marshal(s)
	if perr := p.pub.Publish(TopicRunStatus, b, p.qos, false); perr != nil {
		log.Warn().Err(perr).Str("run_id", info.ID).Msg("Failed to publish run status")
	}
}
