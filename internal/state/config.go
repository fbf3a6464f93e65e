package state

import (
	"path/filepath"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/hardware/serial"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/meter"
	"github.com/temoto/powermeter/tele"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	LogLevel string `hcl:"log_level"`
	LogFile  struct {
		Path       string `hcl:"path"`
		MaxSizeMB  int    `hcl:"max_size_mb"`
		MaxBackups int    `hcl:"max_backups"`
	} `hcl:"log_file"`

	Serial struct {
		Driver     string `hcl:"driver"`
		Device     string `hcl:"device"`
		Baud       int    `hcl:"baud"`
		TimeoutSec int    `hcl:"timeout_sec"`
		ReadMode   string `hcl:"read_mode"` // scan|chunk
		ChunkSize  int    `hcl:"chunk_size"`
	} `hcl:"serial"`

	Frame struct {
		Validate          string `hcl:"validate"` // strict|cheap
		MinLen            int    `hcl:"min_len"`
		MaxLen            int    `hcl:"max_len"`
		ExtendedThreshold int    `hcl:"extended_threshold"`
	} `hcl:"frame"`

	Mqtt struct {
		Broker          string `hcl:"broker"`
		ClientID        string `hcl:"client_id"`
		TopicPrefix     string `hcl:"topic_prefix"`
		Qos             int    `hcl:"qos"`
		Retain          bool   `hcl:"retain"`
		ConnectRetrySec int    `hcl:"connect_retry_sec"`
		KeepaliveSec    int    `hcl:"keepalive_sec"`
		LogDebug        bool   `hcl:"log_debug"`
	} `hcl:"mqtt"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges names in order, later values override earlier.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("code error ReadConfig() without names")
	}
	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names = append([]string{name}, names[1:]...)
	}
	c := &Config{includeSeen: make(map[string]struct{})}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	return c, c.validate()
}

func ReadConfigFile(log *log2.Log, path string) (*Config, error) {
	return ReadConfig(log, NewOsFullReader(), path)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) validate() error {
	errs := make([]error, 0, 4)
	if _, err := c.ParseLogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := meter.ParseReadMode(c.Serial.ReadMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := meter.ParseValidateMode(c.Frame.Validate); err != nil {
		errs = append(errs, err)
	}
	if c.Mqtt.Qos < 0 || c.Mqtt.Qos > 2 {
		errs = append(errs, errors.NotValidf("mqtt.qos=%d", c.Mqtt.Qos))
	}
	if c.Frame.MinLen != 0 && c.Frame.MaxLen != 0 && c.Frame.MinLen > c.Frame.MaxLen {
		errs = append(errs, errors.NotValidf("frame.min_len=%d > max_len=%d", c.Frame.MinLen, c.Frame.MaxLen))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) ParseLogLevel() (log2.Level, error) {
	level, err := log2.ParseLevel(c.LogLevel)
	return level, errors.Annotate(err, "config log_level")
}

func (c *Config) SerialOptions() serial.Options {
	o := serial.Options{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: helpers.IntSecondDefault(c.Serial.TimeoutSec, serial.DefaultReadTimeout),
	}
	o.SetDefaults()
	return o
}

func (c *Config) ReaderConfig() meter.ReaderConfig {
	mode, _ := meter.ParseReadMode(c.Serial.ReadMode)
	return meter.ReaderConfig{
		Mode:      mode,
		ChunkSize: c.Serial.ChunkSize,
		ChunkWait: c.SerialOptions().ReadTimeout,
	}
}

// Validator knobs; zero values keep meter defaults.
func (c *Config) ApplyValidator(v *meter.Validator) {
	v.Mode, _ = meter.ParseValidateMode(c.Frame.Validate)
	if c.Frame.MinLen != 0 {
		v.MinLen = c.Frame.MinLen
	}
	if c.Frame.MaxLen != 0 {
		v.MaxLen = c.Frame.MaxLen
	}
}

func (c *Config) ApplyExtractor(e *meter.Extractor) {
	if c.Frame.ExtendedThreshold != 0 {
		e.ExtendedThreshold = c.Frame.ExtendedThreshold
	}
}

func (c *Config) TeleConfig() tele.Config {
	tc := tele.Config{
		Broker:       c.Mqtt.Broker,
		ClientID:     c.Mqtt.ClientID,
		TopicPrefix:  c.Mqtt.TopicPrefix,
		Qos:          byte(c.Mqtt.Qos),
		Retain:       c.Mqtt.Retain,
		ConnectRetry: helpers.IntSecondDefault(c.Mqtt.ConnectRetrySec, tele.DefaultConnectRetry),
		Keepalive:    helpers.IntSecondDefault(c.Mqtt.KeepaliveSec, tele.DefaultKeepalive),
		LogDebug:     c.Mqtt.LogDebug,
	}
	tc.SetDefaults()
	return tc
}
