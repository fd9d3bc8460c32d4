// Package mprls drives a Honeywell MPRLS ported pressure sensor over I²C.
//
// A measurement is triggered with a 3 byte command, completion is observed
// either through the busy bit of the status byte or through the optional
// End-of-Conversion pin, then the 24 bit raw count is read back and mapped to
// a physical pressure with a linear transfer function.
//
// The transfer function is parameterized by the sensor's pressure range and
// the raw count endpoints of its curve, given as percentages of 2^24. The
// most common parts use the 10%..90% curve over 0..25 psi, which are the
// defaults.
//
// # Datasheet
//
// https://prod-edam.honeywell.com/content/dam/honeywell-edam/sps/siot/en-us/products/sensors/pressure-sensors/board-mount-pressure-sensors/micropressure-mpr-series/documents/sps-siot-mpr-series-datasheet-32332628-ciid-172626.pdf
package mprls
