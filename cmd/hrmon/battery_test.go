//go:build test

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// BatteryTestSuite tests the battery command against the mock strap
type BatteryTestSuite struct {
	CommandTestSuite
	originalFlags struct {
		connectTimeout time.Duration
		readTimeout    time.Duration
	}
}

// SetupSuite saves original flag values before all tests
func (suite *BatteryTestSuite) SetupSuite() {
	suite.CommandTestSuite.SetupSuite()

	suite.originalFlags.connectTimeout = batteryConnectTimeout
	suite.originalFlags.readTimeout = batteryReadTimeout
}

// TearDownSuite restores original flag values after all tests
func (suite *BatteryTestSuite) TearDownSuite() {
	batteryConnectTimeout = suite.originalFlags.connectTimeout
	batteryReadTimeout = suite.originalFlags.readTimeout
}

// SetupTest runs each test against the default strap unless overridden
func (suite *BatteryTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()

	batteryConnectTimeout = 5 * time.Second
	batteryReadTimeout = 2 * time.Second
}

func (suite *BatteryTestSuite) TestBatteryCmd() {
	// GOAL: Verify battery command definition and argument validation
	//
	// TEST SCENARIO: Check command structure → flags with defaults → argument count

	suite.Run("command definition", func() {
		suite.Assert().NotNil(batteryCmd, "battery command MUST be defined")
		suite.Assert().Equal("battery <device-address>", batteryCmd.Use, "command usage MUST match expected format")
	})

	suite.Run("flags", func() {
		connectFlag := batteryCmd.Flags().Lookup("connect-timeout")
		suite.Require().NotNil(connectFlag, "connect-timeout flag MUST exist")
		suite.Assert().Equal("30s", connectFlag.DefValue)

		readFlag := batteryCmd.Flags().Lookup("timeout")
		suite.Require().NotNil(readFlag, "timeout flag MUST exist")
		suite.Assert().Equal("5s", readFlag.DefValue)
	})

	suite.Run("args validation", func() {
		validator := batteryCmd.Args
		suite.Require().NotNil(validator, "args validator MUST be defined")

		suite.Assert().NoError(validator(batteryCmd, []string{"AA:BB:CC:DD:EE:FF"}), "MUST accept one address")
		suite.Assert().Error(validator(batteryCmd, []string{}), "MUST reject missing address")
		suite.Assert().Error(validator(batteryCmd, []string{"a", "b"}), "MUST reject extra arguments")
	})
}

func (suite *BatteryTestSuite) TestReadLevel() {
	// GOAL: Verify the happy path reads the level characteristic and prints a percentage
	//
	// TEST SCENARIO: Default strap reports 55% → command prints "55%"

	var err error
	out := suite.CaptureStdout(func() {
		err = runBattery(batteryCmd, []string{TestDeviceAddress1})
	})

	suite.Require().NoError(err, "battery read MUST succeed against the default strap")
	suite.Assert().Contains(out, "55%", "output MUST contain the battery percentage")
}

func (suite *BatteryTestSuite) TestZeroLevelTreatedAsAbsent() {
	// GOAL: Verify a 0% reading is reported as not-yet-available, not as a real level
	//
	// TEST SCENARIO: Strap reports 0 → command fails with a retry hint

	suite.WithPeripheral().FromJSON(`{
		"services": [
			{
				"uuid": "180f",
				"characteristics": [
					{"uuid": "2a19", "properties": "read", "value": [0]}
				]
			}
		]
	}`)

	err := runBattery(batteryCmd, []string{TestDeviceAddress1})
	suite.Require().Error(err, "zero level MUST be rejected")
	suite.Assert().Contains(err.Error(), "not reported yet", "error MUST hint that the level is pending")
}

func (suite *BatteryTestSuite) TestBatteryServiceMissing() {
	// GOAL: Verify a device without the Battery Service produces a clear error
	//
	// TEST SCENARIO: Heart-rate-only peripheral → command fails naming the capability

	suite.WithPeripheral().FromJSON(`{
		"services": [
			{
				"uuid": "180d",
				"characteristics": [
					{"uuid": "2a37", "properties": "notify"}
				]
			}
		]
	}`)

	err := runBattery(batteryCmd, []string{TestDeviceAddress1})
	suite.Require().Error(err, "missing battery service MUST fail")
	suite.Assert().Contains(err.Error(), "not available", "error MUST say the level is unavailable")
}

func TestBatterySuite(t *testing.T) {
	suite.Run(t, new(BatteryTestSuite))
}
