//go:build tinygo

package main

import "machine"

const (
	// Motion sensor on the primary I2C bus
	I2C_FREQUENCY = 400 * machine.KHz

	// Bio-signal front end output
	PIN_BIO_ADC = machine.A0

	// Calibration button, active low
	PIN_BUTTON = machine.D1

	// Status LED, blinks forever when no motion sensor is found
	PIN_LED = machine.LED

	// Frames leave over UART0 (D6/D7) to a BLE bridge module. The on-chip
	// radio cannot notify a whole frame at the default ATT MTU.
	USE_UART_BRIDGE = true

	// No calibration is stored on the device yet; every boot waits for the button.
	STORED_CALIBRATION = false

	// Blink period of the fatal error indication
	FATAL_BLINK_MS = 200
)
