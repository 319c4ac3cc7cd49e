// Package main (cmd/eloc-provision) implements the factory station tool for ELOC
// recorders. Each `provision` run takes the next serial number from the factory
// configuration table (nvs.csv), generates LoRaWAN join keys, records the device in
// the provisioning log and then builds and flashes the firmware and NVS partition
// over the selected serial port:
//
//	eloc-provision --config eloc.yaml provision --port COM6
//
// The record and log are updated before any tool runs, so a failed build or flash
// still consumes the serial; the printed serial identifies the device to retry
// with flash-nvs. Ctrl-C before the transaction aborts at once. Once a serial is
// being committed, a first Ctrl-C stops the run after the current step and a second
// one aborts the running tool.
//
// Other commands:
//
//	increment      provisioning transaction only
//	flash-nvs      flash an existing NVS image
//	flash-factory  size the NVS image from partitions.csv, generate and flash it
//	ports          list serial ports
//	audit list     print the provisioning log, keys shown as fingerprints
//	audit archive  copy the provisioning log to file://, s3:// or vault:// archives,
//	               optionally sealed to an archive public key
//	audit restore  fetch an archived log by content id, opening sealed archives
//	audit keygen   create the archive key pair
//	serve          read-only status API for station dashboards
package main
