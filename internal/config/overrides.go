package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError reports a rejected setting, named after its CLI flag.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "--" + e.Field + " " + e.Msg
}

// Overrides holds settings given on the command line. Nil fields were not set.
type Overrides struct {
	Host      *string
	Port      *int
	Keepalive *int
	Transport *string
	Theme     *string
}

// Empty reports whether no override was given.
func (o Overrides) Empty() bool {
	return o.Host == nil && o.Port == nil && o.Keepalive == nil && o.Transport == nil && o.Theme == nil
}

// Validate rejects values that could never produce a connection.
func (o Overrides) Validate() error {
	if o.Host != nil && strings.TrimSpace(*o.Host) == "" {
		return &ValidationError{Field: "host", Msg: "must be a non-empty string"}
	}
	if o.Port != nil && (*o.Port < 1 || *o.Port > 65535) {
		return &ValidationError{Field: "port", Msg: "must be an integer between 1 and 65535"}
	}
	if o.Keepalive != nil && *o.Keepalive <= 0 {
		return &ValidationError{Field: "keepalive", Msg: "must be a positive integer"}
	}
	if o.Transport != nil && *o.Transport != TransportTCP && *o.Transport != TransportWebsockets {
		return &ValidationError{Field: "transport", Msg: fmt.Sprintf("must be '%s' or '%s'", TransportTCP, TransportWebsockets)}
	}
	return nil
}

// Update writes the given overrides into dir/config.yaml, keeping every
// other key already in the file.
func Update(dir string, o Overrides) error {
	if err := o.Validate(); err != nil {
		return err
	}
	doc := map[string]any{}
	if data, err := os.ReadFile(Path(dir)); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config %s: %w", Path(dir), err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}

	if o.Host != nil {
		doc["host"] = *o.Host
	}
	if o.Port != nil {
		doc["port"] = *o.Port
	}
	if o.Keepalive != nil {
		doc["keepalive"] = *o.Keepalive
	}
	if o.Transport != nil {
		doc["transport"] = *o.Transport
	}
	if o.Theme != nil {
		doc["theme"] = *o.Theme
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(dir), data, 0644)
}
