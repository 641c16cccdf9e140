// Package csi implements the streaming signal-reduction and adaptive
// detection pipeline for Wi-Fi channel-state information.
//
// A producer feeds raw CSI_DATA records through ParseFrame and a Reducer
// into a fixed-capacity Window. A consumer snapshots the Window on its own
// schedule and runs the snapshot through conditioning (min-max
// normalization and a centered moving average) and a threshold Detector,
// yielding a Tick for renderers. The Window is the only state shared
// between the two sides; everything derived from a snapshot is recomputed
// per Tick and never mutated afterwards.
package csi
