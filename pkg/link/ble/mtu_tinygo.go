//go:build tinygo

package ble

// The SoftDevice answers every MTU exchange with the default ATT MTU.
const defaultATTMTU = 23
