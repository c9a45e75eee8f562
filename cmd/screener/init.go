package main

import (
	"fmt"
	"os"
)

const starterConfig = `# Screening service configuration. Every value can also be supplied through
# the environment with the SCREENER_ prefix, e.g. SCREENER_SERVER_PORT=8080.
server:
  host: 0.0.0.0
  port: 8080

database:
  host: localhost
  port: 5432
  database: admissions_warehouse
  username: postgres
  password: ""
  ssl_mode: disable

cache:
  redis_url: redis://localhost:6379

score_service:
  enabled: false
  base_url: http://localhost:9000

results:
  backend: sqlite
  sqlite_path: ./data/screener.db

output:
  dir: ./output

logging:
  level: info
  format: json
`

const starterStudy = `# Study criteria document. Every field is optional; absent fields take the
# documented defaults, so an empty document screens with the defaults below.
study:
  name: example-stroke-study

age:
  min: 18
  max: 85
  hard_exclude: 90

stroke_signal:
  min_code_count: 1
  require_any_signal: true
  prefer_primary_dx: true

cardiovascular_context:
  min_code_count: 1
  required: false

admission:
  emergency_only: false

ml_scoring:
  enabled: false
  min_score: 0.0

screening:
  default_k_values: [25, 50, 100, 200]
`

// runInit scaffolds a starter configuration and study criteria document in the
// working directory. Existing files are never overwritten.
func runInit() error {
	files := map[string]string{
		"config.yaml": starterConfig,
		"study.yaml":  starterStudy,
	}

	for name, content := range files {
		if _, err := os.Stat(name); err == nil {
			fmt.Printf("skipping %s: already exists\n", name)
			continue
		}
		if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		fmt.Printf("wrote %s\n", name)
	}

	return nil
}
