package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/quorumlabs/quorum/internal/models"
)

// Config is the process configuration, read from the environment.
type Config struct {
	APIKey           string
	ListenAddr       string
	SearchURL        string // empty disables the search capability
	MaxRounds        int    // caller-side round ceiling
	RecentFullTurns  int
	SearchIterations int
	FetchPages       bool
	Models           []models.Config
}

// Load reads configuration from the environment, after merging a .env file
// if one exists.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("config: OPENROUTER_API_KEY is required")
	}

	listenAddr := os.Getenv("QUORUM_LISTEN")
	if listenAddr == "" {
		listenAddr = ":3000"
	}

	maxRounds, err := envInt("QUORUM_MAX_ROUNDS", 10)
	if err != nil {
		return nil, err
	}
	recentTurns, err := envInt("QUORUM_RECENT_TURNS", 2)
	if err != nil {
		return nil, err
	}
	searchIters, err := envInt("QUORUM_SEARCH_ITERATIONS", 2)
	if err != nil {
		return nil, err
	}

	if maxRounds < 1 {
		return nil, fmt.Errorf("config: QUORUM_MAX_ROUNDS must be >= 1, got %d", maxRounds)
	}
	if recentTurns < 1 {
		return nil, fmt.Errorf("config: QUORUM_RECENT_TURNS must be >= 1, got %d", recentTurns)
	}
	if searchIters < 1 {
		return nil, fmt.Errorf("config: QUORUM_SEARCH_ITERATIONS must be >= 1, got %d", searchIters)
	}

	configured, err := ParseModels(os.Getenv("QUORUM_MODELS"))
	if err != nil {
		return nil, err
	}
	if len(configured) == 0 {
		configured = models.DefaultConfigs()
	}

	return &Config{
		APIKey:           apiKey,
		ListenAddr:       listenAddr,
		SearchURL:        os.Getenv("QUORUM_SEARCH_URL"),
		MaxRounds:        maxRounds,
		RecentFullTurns:  recentTurns,
		SearchIterations: searchIters,
		FetchPages:       os.Getenv("QUORUM_FETCH_PAGES") == "true",
		Models:           configured,
	}, nil
}

// ParseModels parses the QUORUM_MODELS format: comma-separated entries of
// "id|display name|provider/model|tier". Tier is optional and defaults to
// standard.
func ParseModels(raw string) ([]models.Config, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []models.Config
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("config: invalid QUORUM_MODELS entry %q (want id|display|model[|tier])", entry)
		}
		cfg := models.Config{
			ID:          strings.TrimSpace(fields[0]),
			DisplayName: strings.TrimSpace(fields[1]),
			Model:       strings.TrimSpace(fields[2]),
			Tier:        models.TierStandard,
		}
		if cfg.ID == "" || cfg.DisplayName == "" || cfg.Model == "" {
			return nil, fmt.Errorf("config: invalid QUORUM_MODELS entry %q: empty field", entry)
		}
		if len(fields) == 4 {
			switch tier := models.Tier(strings.TrimSpace(fields[3])); tier {
			case models.TierFast, models.TierStandard:
				cfg.Tier = tier
			default:
				return nil, fmt.Errorf("config: invalid tier %q in QUORUM_MODELS entry %q", tier, entry)
			}
		}
		out = append(out, cfg)
	}
	return out, nil
}

func envInt(key string, defaultVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, s, err)
	}
	return v, nil
}
