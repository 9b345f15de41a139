package bridge

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
)

// DocumentFile is the name of the rendered document inside the work directory.
const DocumentFile = "installer.yaml"

// ConfigDocument is the rendered install selection consumed by the system
// configuration.
type ConfigDocument struct {
	ConfigName  string      `yaml:"config_name"`
	Hostname    string      `yaml:"hostname,omitempty"`
	Disk        DiskSection `yaml:"disk"`
	GeneratedAt time.Time   `yaml:"generated_at"`

	// Path is where the document was written.
	Path string `yaml:"-"`
}

// DiskSection is the partition layout block of the document.
type DiskSection struct {
	Device      string `yaml:"device"`
	BootSizeMiB int    `yaml:"boot_size_mib"`
	RootSizeGiB int    `yaml:"root_size_gib"`
	RootFS      string `yaml:"root_fs"`
}

// NewConfigDocument builds a document for sel using scheme.
func NewConfigDocument(configName string, sel Selection, scheme disk.Scheme) *ConfigDocument {
	return &ConfigDocument{
		ConfigName: configName,
		Hostname:   sel.Hostname,
		Disk: DiskSection{
			Device:      sel.DevicePath,
			BootSizeMiB: scheme.BootSizeMiB,
			RootSizeGiB: scheme.RootSizeGiB,
			RootFS:      scheme.RootFS,
		},
		GeneratedAt: time.Now().UTC(),
	}
}

// Marshal encodes the document as YAML.
func (d *ConfigDocument) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode config document")
	}
	return data, nil
}

// WriteTo stores the document as DocumentFile in dir.
func (d *ConfigDocument) WriteTo(dir string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create work directory")
	}
	path := filepath.Join(dir, DocumentFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config document")
	}
	d.Path = path
	return nil
}

// ReadConfigDocument loads a document previously written by WriteTo.
func ReadConfigDocument(path string) (*ConfigDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config document")
	}
	var doc ConfigDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode config document")
	}
	doc.Path = path
	return &doc, nil
}
