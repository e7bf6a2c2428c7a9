package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/agentrun/internal/domain"
)

// File is the optional YAML document named by CONFIG_FILE. It seeds agents
// and credentials and declares the triggers the dispatcher runs.
type File struct {
	Agents      []domain.AgentCore  `yaml:"agents"`
	Credentials []domain.Credential `yaml:"credentials"`
	Triggers    []TriggerConfig     `yaml:"triggers"`
}

// TriggerConfig declares one trigger.
type TriggerConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // mailbox or schedule
	TenantID string `yaml:"tenant_id"`
	UserID   string `yaml:"user_id"`
	AgentID  string `yaml:"agent_id"`
	// Spec is the human-readable trigger description, e.g.
	// "email:support@example.com". Credentials are matched against it.
	Spec string `yaml:"spec"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// mailbox
	IMAP IMAPConfig `yaml:"imap"`

	// schedule
	Schedule string `yaml:"schedule"`
	Input    string `yaml:"input"`
}

type IMAPConfig struct {
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`
	UseSSL bool   `yaml:"use_ssl"`
	Folder string `yaml:"folder"`
}

// LoadFile reads and validates a config file. An empty path yields an
// empty File.
func LoadFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes a YAML config document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	for i := range f.Triggers {
		f.Triggers[i].applyDefaults()
		if err := f.Triggers[i].Validate(); err != nil {
			return nil, fmt.Errorf("trigger %q: %w", f.Triggers[i].ID, err)
		}
	}
	return &f, nil
}

func (c *TriggerConfig) applyDefaults() {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.PollIntervalSeconds <= 0 {
		switch c.Type {
		case "schedule":
			c.PollIntervalSeconds = 30
		default:
			c.PollIntervalSeconds = 60
		}
	}
	if c.Type == "mailbox" {
		if c.IMAP.Port <= 0 {
			c.IMAP.Port = 993
			c.IMAP.UseSSL = true
		}
		if strings.TrimSpace(c.IMAP.Folder) == "" {
			c.IMAP.Folder = "INBOX"
		}
	}
}

func (c TriggerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c TriggerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return errors.New("agent_id is required")
	}
	switch c.Type {
	case "mailbox":
		if strings.TrimSpace(c.IMAP.Server) == "" {
			return errors.New("imap.server is required")
		}
	case "schedule":
		if strings.TrimSpace(c.Schedule) == "" {
			return errors.New("schedule is required")
		}
	default:
		return fmt.Errorf("unsupported trigger type %q", c.Type)
	}
	return nil
}
