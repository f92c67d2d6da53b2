//go:build !tinygo

package ble

// Host stacks negotiate the MTU with the central. BlueZ offers up to 517;
// set ble.att_mtu when the central settles for less.
const defaultATTMTU = 517
