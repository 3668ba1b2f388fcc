package game

import (
	"encoding/json"

	"github.com/spile-project/spile/internal/config"
)

// statusPayload is the server-list ping response body.
type statusPayload struct {
	Version     statusVersion `json:"version"`
	Players     statusPlayers `json:"players"`
	Description statusText    `json:"description"`
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type statusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

type statusText struct {
	Text string `json:"text"`
}

func statusJSON(cfg *config.Config, online int) (string, error) {
	payload := statusPayload{
		Version: statusVersion{
			Name:     cfg.Server.Version,
			Protocol: cfg.Server.ProtocolVersion,
		},
		Players: statusPlayers{
			Max:    cfg.Server.MaxPlayers,
			Online: online,
		},
		Description: statusText{Text: cfg.Server.MOTD},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
