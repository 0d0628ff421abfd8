package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// FileConfig is the on-disk representation of tunable transport settings,
// read by LoadFile and applied on top of the RFC-recommended defaults from
// NewTransport. None of the cmd/ binaries loads one.
type FileConfig struct {
	MaxIdleTimeoutSeconds   int    `yaml:"max_idle_timeout_seconds"`
	InitialMaxDataBytes     uint64 `yaml:"initial_max_data_bytes"`
	InitialMaxStreamsBidi   uint64 `yaml:"initial_max_streams_bidi"`
	InitialMaxStreamsUni    uint64 `yaml:"initial_max_streams_uni"`
	CongestionController    string `yaml:"congestion_controller"`
	ConnectionIDLength      int    `yaml:"connection_id_length"`
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// ApplyTo overlays the file config's non-zero idle timeout, initial max data
// and initial max streams onto a Transport. CongestionController and
// ConnectionIDLength are not applied.
func (fc FileConfig) ApplyTo(t *Transport) (*Transport, error) {
	if fc.MaxIdleTimeoutSeconds > 0 {
		if _, err := t.WithMaxIdleTimeout(secondsToDuration(fc.MaxIdleTimeoutSeconds)); err != nil {
			return t, err
		}
	}
	if fc.InitialMaxDataBytes > 0 {
		if _, err := t.WithInitialMaxData(fc.InitialMaxDataBytes); err != nil {
			return t, err
		}
	}
	if fc.InitialMaxStreamsBidi > 0 || fc.InitialMaxStreamsUni > 0 {
		bidi, uni := fc.InitialMaxStreamsBidi, fc.InitialMaxStreamsUni
		if bidi == 0 {
			bidi = t.InitialMaxStreamsBidi()
		}
		if uni == 0 {
			uni = t.InitialMaxStreamsUni()
		}
		if _, err := t.WithInitialMaxStreams(bidi, uni); err != nil {
			return t, err
		}
	}
	return t, nil
}
