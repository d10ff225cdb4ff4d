// Package crawler holds the core harvesting types and the breadth-first page
// discovery engine. Fetching, rendering, classification and persistence are
// supplied through the interfaces declared in interfaces.go so the engine can
// be exercised with fakes.
package crawler
