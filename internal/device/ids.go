package device

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// FunctionID identifies the behaviour of a channel, e.g. blind actuator.
type FunctionID uint16

// PairingID is the protocol role of a datapoint, e.g. on/off command.
type PairingID uint16

// ParameterID identifies a channel parameter, e.g. maximum colour temperature.
type ParameterID uint16

func (f FunctionID) String() string  { return fmt.Sprintf("0x%04X", uint16(f)) }
func (p PairingID) String() string   { return fmt.Sprintf("0x%04X", uint16(p)) }
func (p ParameterID) String() string { return fmt.Sprintf("0x%04X", uint16(p)) }

// parseHex parses the hex attributes used throughout the configuration,
// with or without a 0x prefix.
func parseHex(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// Function ids grouped by the kind of channel they describe.
var (
	FunctionIDsBinarySensor = []FunctionID{
		0x0000, // control element
		0x0001, // dimming sensor
		0x0003, // blind sensor
		0x0004, // stairwell light sensor
		0x0005, // force on/off sensor
		0x0006, // scene sensor
		0x000C, // wind alarm
		0x000D, // frost alarm
		0x000E, // rain alarm
		0x000F, // window sensor
		0x0011, // movement detector sensor
		0x0028, // force-position blind
		0x002A, // switchover heating/cooling
		0x0071, // timer program switch sensor
		0x1008, 0x1009, 0x100A, 0x100B, // switch sensor push button
		0x1018, 0x1019, 0x101A, 0x101B, // dimming sensor push button
		0x1028, 0x1029, 0x102A, 0x102B, // staircase light sensor push button
		0x1040, 0x1041, 0x1042, // blind sensor rocker
		0x1058, 0x1059, 0x105A, 0x105B, // force on/off sensor push button
	}

	FunctionIDsSwitchingActuator = []FunctionID{
		0x0007, // switch actuator
		0x0045, // trigger
	}

	FunctionIDsDimmingActuator = []FunctionID{
		0x0012, // dimmer
		0x1810, // dimming actuator type 0
		0x1819, // dimming actuator type 9
	}

	FunctionIDsColorActuator = []FunctionID{
		0x002E, // RGBW actuator
		0x002F, // RGB actuator
	}

	FunctionIDsColorTemperatureActuator = []FunctionID{
		0x0040, // tunable white actuator
	}

	FunctionIDsRoomTemperatureController = []FunctionID{
		0x000A, // with fan speed
		0x000B, // extension unit
		0x0023, // room temperature controller
		0x003E, 0x003F, // wireless variants
	}

	FunctionIDsBlindActuator = []FunctionID{
		0x002C, // cover
		0x0061, // roller blind actuator
		0x1820, 0x1821, 0x1822, 0x1823, 0x1825, // blinds actuator types
	}

	FunctionIDsAtticWindowActuator = []FunctionID{0x0062}
	FunctionIDsAwningActuator      = []FunctionID{0x0063}
	FunctionIDsShutterActuator     = []FunctionID{0x0009}

	FunctionIDsScene = []FunctionID{
		0x4000, // light group
		0x4800, // custom scene
		0x4801, // panic scene
		0x4802, // all lights off
		0x4803, // all blinds open
		0x4804, // all blinds closed
	}

	FunctionIDsMovementDetector = []FunctionID{
		0x0011, // movement detector sensor
		0x1090, 0x1091, 0x1092, 0x1093, 0x1094, 0x1095, 0x1096,
	}

	FunctionIDsDoorOpener = []FunctionID{0x001A}

	FunctionIDsDoorbellSensor = []FunctionID{0x001D}

	FunctionIDsWeatherStation = []FunctionID{
		0x0041, // brightness sensor
		0x0042, // rain sensor
		0x0043, // temperature sensor
		0x0044, // wind sensor
	}

	FunctionIDsAirQualitySensor = []FunctionID{0x00C0}
)

// Pairing ids.
const (
	PIDSwitchOnOff                 PairingID = 0x0001
	PIDTimedStartStop              PairingID = 0x0002
	PIDForcePosition               PairingID = 0x0003
	PIDSceneControl                PairingID = 0x0004
	PIDMovementUnderBrightness     PairingID = 0x0006
	PIDPresence                    PairingID = 0x0007
	PIDRelativeSetValue            PairingID = 0x0010
	PIDAbsoluteSetValue            PairingID = 0x0011
	PIDHSV                         PairingID = 0x0015
	PIDColor                       PairingID = 0x0016
	PIDSaturation                  PairingID = 0x0017
	PIDColorTemperature            PairingID = 0x0018
	PIDRGB                         PairingID = 0x0019
	PIDMoveUpDown                  PairingID = 0x0020
	PIDAdjustUpDown                PairingID = 0x0021
	PIDSetAbsolutePositionBlinds   PairingID = 0x0023
	PIDSetAbsolutePositionSlats    PairingID = 0x0024
	PIDWindAlarm                   PairingID = 0x0025
	PIDFrostAlarm                  PairingID = 0x0026
	PIDRainAlarm                   PairingID = 0x0027
	PIDForcePositionBlind          PairingID = 0x0028
	PIDWindowDoorPosition          PairingID = 0x0029
	PIDSetValueTemperature         PairingID = 0x0033
	PIDWindowDoor                  PairingID = 0x0035
	PIDStatusIndication            PairingID = 0x0036
	PIDControllerOnOff             PairingID = 0x0038
	PIDEcoModeOnOffRequest         PairingID = 0x003A
	PIDControllerOnOffRequest      PairingID = 0x0042
	PIDInfoOnOff                   PairingID = 0x0100
	PIDForcePositionInfo           PairingID = 0x0101
	PIDInfoActualDimmingValue      PairingID = 0x0110
	PIDInfoHSV                     PairingID = 0x0115
	PIDInfoColorTemperature        PairingID = 0x0118
	PIDInfoRGB                     PairingID = 0x0119
	PIDInfoMoveUpDown              PairingID = 0x0120
	PIDCurrentPositionBlinds       PairingID = 0x0121
	PIDCurrentPositionSlats        PairingID = 0x0122
	PIDMeasuredTemperature         PairingID = 0x0130
	PIDSwitchoverHeatingCooling    PairingID = 0x0135
	PIDAbsoluteSetpointTemperature PairingID = 0x0140
	PIDHeatingDemand               PairingID = 0x014D
	PIDFireAlarmActive             PairingID = 0x0190
	PIDCOAlarmActive               PairingID = 0x0191
	PIDOutdoorTemperature          PairingID = 0x0400
	PIDBrightnessAlarm             PairingID = 0x0402
	PIDMeasuredBrightness          PairingID = 0x0403
	PIDWindSpeed                   PairingID = 0x0404
	PIDRainDetection               PairingID = 0x0405
	PIDMeasuredHumidity            PairingID = 0x0440
	PIDMeasuredCO2                 PairingID = 0x0441
	PIDMeasuredVOC                 PairingID = 0x0442
)

// Parameter ids.
const (
	ParamTemperatureCorrection   ParameterID = 0x001B
	ParamMaximumColorTemperature ParameterID = 0x0096
	ParamMinimumColorTemperature ParameterID = 0x0097
)

// positionSuffixes maps channel name ids of multi-gang sensors to the
// suffix that tells the rockers apart.
var positionSuffixes = map[uint32]string{
	0x000A: "",    // 1-way
	0x0043: " L",  // 2-way left
	0x0044: " R",  // 2-way right
	0x0045: " LT", // 2-way left, top
	0x0046: " LB", // 2-way left, bottom
	0x0047: " RT", // 2-way right, top
	0x0048: " RB", // 2-way right, bottom
	0x0066: " T",  // 1-way, top
	0x0067: " B",  // 1-way, bottom
}

func functionIn(f FunctionID, sets ...[]FunctionID) bool {
	for _, set := range sets {
		if slices.Contains(set, f) {
			return true
		}
	}
	return false
}
