// Package visionstream is a distributed image-processing pipeline built on
// NATS pub/sub transport.
//
// # Architecture
//
// The pipeline is a chain of three independent stages connected by NATS
// subjects carrying multi-part framed messages:
//
//	┌─────────────┐   images.raw     ┌──────────────┐  images.features  ┌─────────────┐
//	│  Generator  │ ───────────────▶ │  Extractor   │ ────────────────▶ │  Archiver   │
//	│ (dir scan)  │  2-part frames   │ (worker pool)│   3-part frames   │ (Postgres)  │
//	└─────────────┘                  └──────────────┘                   └─────────────┘
//
// The extractor is the heart of the system: a single ingress goroutine owns
// the inbound subscription, fans work out across a pool of symmetric worker
// goroutines that detect feature points in each image, and a single egress
// goroutine fans the results back in to the outbound publisher. Hand-off
// between the three roles happens exclusively through blocking queues
// (pkg/queue); no two goroutines ever share a transport endpoint.
//
// # Wire contract
//
// Each NATS message carries an ordered sequence of length-prefixed frames
// (package frame). Upstream messages hold two frames (filename, encoded
// image); downstream messages hold three (filename, image forwarded
// byte-for-byte, keypoint buffer). Keypoints travel as fixed-width 28-byte
// records (package keypoint).
//
// # Guarantees and non-goals
//
// Delivery is best effort: the pipeline does not guarantee global ordering
// of results relative to inputs once more than one worker is active, and it
// does not guarantee exactly-once delivery across process restarts. A bad
// item never stops a stage; every loop absorbs its own failures and
// continues.
package visionstream
