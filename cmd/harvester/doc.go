// Command harvester crawls designer storefronts and downloads their product
// images.
//
// Each site in the CSV list is crawled breadth-first until product pages turn
// up; their images are downloaded in bounded batches, de-duplicated by content
// digest across runs, and stored under a per-site directory (or GCS prefix).
// Provenance and itemized errors land in CSV logs, optionally mirrored to
// Postgres and announced over Pub/Sub. A markdown summary is written at the end
// of every run.
//
// Usage:
//
//	harvester harvest --sites designers.csv [--config harvester.yaml]
//	harvester sites --sites designers.csv
//
// Configuration comes from the optional YAML/TOML file and HARVESTER_*
// environment variables (HARVESTER_CRAWLER_MAX_PAGES, HARVESTER_DB_DSN, ...).
// SIGINT and SIGTERM stop admitting new sites; sites already running drain
// before the summary is written.
package main
