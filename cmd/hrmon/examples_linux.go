//go:build !darwin

package main

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = "Device address format: 48-bit MAC address with colons\n  Example: AA:BB:CC:DD:EE:FF\n  Use 'hrmon scan' to discover devices"
)
