package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "sim":
		return simTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `[listener]
host = "localhost"
port = 9988
context = "SAT-A"
role = "COMMANDING"

[auth]
username = ""
password = ""
use_local = false

[transport]
connect_timeout = "5s"
request_timeout = "10s"
write_timeout = "15s"
disconnect_timeout = "2s"
max_connect_attempts = 1
security_mode = "development"

[tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""
`

const simTemplate = `addr = ":9988"
host = "127.0.0.1"
http_addr = ":9989"

[procedures]
PROC1 = "Power On"
PROC2 = "Telemetry Check"
PROC3 = "Safe Mode"

[[contexts]]
name = "SAT-A"
spacecraft_id = "1"
driver = "STANDALONE"
family = "PRIME"
gcs_host = "gcs-a"
description = "Primary spacecraft"
max_procedures = 10

[[contexts]]
name = "SAT-B"
spacecraft_id = "2"
driver = "STANDALONE"
family = "BACKUP"
gcs_host = "gcs-b"
description = "Backup spacecraft"
max_procedures = 10
`
