package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/bubbles/internal/util"
)

type Config struct {
	Profile Profile `json:"profile"`
	Store   Store   `json:"store"`
	ICE     ICE     `json:"ice"`
	Audio   Audio   `json:"audio"`
	PTT     PTT     `json:"ptt"`
	Relay   Relay   `json:"relay"`
}

type Profile struct {
	// DisplayName is the name shown to other participants. Empty means ask
	// or derive a default at join time.
	DisplayName string `json:"display_name"`

	// Origin is the base URL used when printing share links.
	// Example: https://bubbles.example.org
	Origin string `json:"origin"`
}

type Store struct {
	// URL of the document store relay, ws:// or wss://. Empty means run
	// against an in-process store (single machine, useful for testing).
	URL string `json:"url"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICE struct {
	// Servers are tried in order. At least one TURN entry is recommended for
	// callers behind symmetric NAT.
	Servers []ICEServer `json:"servers"`
}

type Audio struct {
	// RecordDir enables per-peer ogg recording when non-empty. Relative to
	// the profile directory.
	RecordDir string `json:"record_dir"`

	// Transcription toggles the caption bridge for rooms that allow it.
	Transcription bool `json:"transcription"`

	// TranscriptDir is where the local transcript database lives.
	TranscriptDir string `json:"transcript_dir"`

	// OpenAIKey enables transcript summarization when set. Model empty means
	// the library default.
	OpenAIKey   string `json:"openai_key"`
	OpenAIModel string `json:"openai_model"`
}

type PTT struct {
	Enabled bool   `json:"enabled"`
	Key     string `json:"key"`
}

type Relay struct {
	// Bind address for the relay subcommand. Default 127.0.0.1; set to
	// 0.0.0.0 to accept connections from other machines.
	Bind string `json:"bind"`
	Port int    `json:"port"`
}

func Default() Config {
	return Config{
		Profile: Profile{
			Origin: "https://bubbles.local",
		},
		Store: Store{
			URL: "",
		},
		ICE: ICE{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		Audio: Audio{
			Transcription: false,
			TranscriptDir: "data",
		},
		PTT: PTT{
			Enabled: false,
			Key:     "space",
		},
		Relay: Relay{
			Bind: "127.0.0.1",
			Port: 8787,
		},
	}
}

func (c *Config) Validate() error {
	if s := strings.TrimSpace(c.Store.URL); s != "" {
		if err := validateStoreURL(s); err != nil {
			return fmt.Errorf("store.url: %w", err)
		}
	}

	if len(c.ICE.Servers) == 0 {
		return errors.New("ice.servers must have at least one entry")
	}
	for i, srv := range c.ICE.Servers {
		if len(srv.URLs) == 0 {
			return fmt.Errorf("ice.servers[%d].urls is required", i)
		}
		for _, u := range srv.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return fmt.Errorf("ice.servers[%d]: %q must be a stun:/turn:/turns: url", i, u)
			}
		}
	}

	if c.PTT.Enabled && strings.TrimSpace(c.PTT.Key) == "" {
		return errors.New("ptt.key is required when ptt is enabled")
	}

	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return errors.New("relay.port must be 1..65535")
	}
	if b := c.Relay.Bind; b != "" {
		if net.ParseIP(b) == nil {
			return errors.New("relay.bind must be a valid IP address")
		}
	}

	if c.Audio.Transcription && strings.TrimSpace(c.Audio.TranscriptDir) == "" {
		return errors.New("audio.transcript_dir is required when transcription is enabled")
	}

	return nil
}

func validateStoreURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
