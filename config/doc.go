// Package config loads pipeline definitions from YAML and builds them
// against a registry of named stages.
//
// A file holds the shared fetch settings and any number of pipelines:
//
//	cache_dir: .scrape-cache
//	fetch: {timeout: 30s, user_agent: "city-scraper/1.0", rate_limit: 2}
//	throttle: {seed: 40s, increment: 10s, max_attempts: 10}
//	pipelines:
//	  chicago.events:
//	    replay: true
//	    source: {values: ["https://example.org/events.ics"]}
//	    stages:
//	      - download
//	      - name: parse_icalendar
//	        args: {timezone: America/Chicago}
//	        timeout: 30s
//	      - flatten
//
// Load merges "<name>.local.<ext>" over the file when it exists, and
// expands ${VAR} references from the environment. BuildAllPipelines
// resolves every pipeline against DefaultRegistry() or a registry of your own.
package config
