package mavlink

import "fmt"

// MAV_TYPE display names.
var vehicleTypeNames = map[uint8]string{
	0:  "Generic",
	1:  "FixedWing",
	2:  "QuadCopter",
	3:  "Coaxial",
	4:  "Helicopter",
	5:  "AntennaTracker",
	6:  "GCS",
	7:  "Airship",
	8:  "FreeBalloon",
	9:  "Rocket",
	10: "GroundRover",
	11: "SurfaceBoat",
	12: "Submarine",
	13: "HexaCopter",
	14: "OctoCopter",
	15: "TriCopter",
	16: "FlappingWing",
	17: "Kite",
	18: "OnboardController",
	19: "VTOLTailsitterDuoRotor",
	20: "VTOLTailsitterQuadRotor",
	21: "VTOLTiltRotor",
	22: "VTOLFixedRotor",
	23: "VTOLTailsitter",
	24: "VTOLTiltWing",
	25: "VTOLReserved5",
	26: "Gimbal",
	27: "ADSB",
	28: "Parafoil",
	29: "DodecaCopter",
	30: "Camera",
	31: "ChargingStation",
	32: "FLARM",
	33: "Servo",
	34: "OpenDroneID",
	35: "DecaCopter",
	36: "Battery",
	37: "Parachute",
	38: "Log",
	39: "OSD",
	40: "IMU",
	41: "GPS",
	42: "Winch",
}

// VehicleTypeName renders a MAV_TYPE code; unmapped codes become "Unknown(n)".
func VehicleTypeName(code uint8) string {
	if name, ok := vehicleTypeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

// MAV_AUTOPILOT display names.
var autopilotNames = map[uint8]string{
	0:  "Generic",
	3:  "ArduPilotMega",
	4:  "OpenPilot",
	8:  "Invalid",
	12: "PX4",
	13: "SMACCMPilot",
	14: "AutoQuad",
	15: "Armazila",
	16: "Aerob",
	17: "ASLUAV",
	18: "SmartAP",
	19: "AirRails",
	20: "Reflex",
}

// AutopilotName renders a MAV_AUTOPILOT code, "Unknown(n)" when unmapped.
func AutopilotName(code uint8) string {
	if name, ok := autopilotNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", code)
}
