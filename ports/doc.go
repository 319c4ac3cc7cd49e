// Package ports finds the serial connection a device is flashed through.
package ports
