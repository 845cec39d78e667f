package foxglove

const StatusSchema = `{
  "type": "object",
  "properties": {
    "ts": { "type": "string" },
    "event": { "type": "string" },
    "connected": { "type": "boolean" },
    "system_id": { "type": "integer" },
    "component_id": { "type": "integer" },
    "vehicle_type": { "type": "string" },
    "vehicle_type_code": { "type": "integer" }
  },
  "required": ["ts", "event", "connected"]
}`

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": {
        "sec": { "type": "integer" },
        "nsec": { "type": "integer" }
      },
      "required": ["sec", "nsec"]
    },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  },
  "required": ["timestamp", "level", "message", "name", "file", "line"]
}`

type Config struct {
	WSAddr string
	Name   string

	StatusTopic     string
	StatusChannelID uint64

	LogTopic     string
	LogChannelID uint64
	LogName      string

	SendBuf int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:          "127.0.0.1:8765",
		Name:            "mavwatch",
		StatusTopic:     "/mavwatch/link",
		StatusChannelID: 1,
		LogTopic:        "/mavwatch/log",
		LogChannelID:    2,
		LogName:         "mavwatch",
		SendBuf:         256,
	}
}

func (cfg *Config) normalize() {
	def := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = def.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = def.StatusTopic
	}
	if cfg.StatusChannelID == 0 {
		cfg.StatusChannelID = def.StatusChannelID
	}
	if cfg.LogTopic == "" {
		cfg.LogTopic = def.LogTopic
	}
	if cfg.LogChannelID == 0 {
		cfg.LogChannelID = def.LogChannelID
	}
	if cfg.LogChannelID == cfg.StatusChannelID {
		cfg.LogChannelID = cfg.StatusChannelID + 1
	}
	if cfg.LogName == "" {
		cfg.LogName = def.LogName
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
}
