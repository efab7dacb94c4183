package device

// Address is the 7-bit I2C address of the MAX30102.
const Address = 0x57

// Register addresses.
const (
	RegIntStatus1 = 0x00
	RegIntStatus2 = 0x01
	RegIntEnable1 = 0x02
	RegIntEnable2 = 0x03
	RegFIFOWrPtr  = 0x04
	RegOvfCounter = 0x05
	RegFIFORdPtr  = 0x06
	RegFIFOData   = 0x07
	RegFIFOConfig = 0x08
	RegModeConfig = 0x09
	RegSpO2Config = 0x0A
	RegLED1PA     = 0x0C
	RegLED2PA     = 0x0D
	RegTempInt    = 0x1F
	RegTempFrac   = 0x20
	RegTempConfig = 0x21
	RegRevID      = 0xFE
	RegPartID     = 0xFF
)

// PartID identifies a MAX30102.
const PartID = 0x15

// Interrupt flags.
const (
	// status/enable 1
	IntAlmostFull byte = 1 << 7
	IntPPGReady   byte = 1 << 6
	IntALCOvf     byte = 1 << 5
	IntPowerReady byte = 1 << 0

	// status/enable 2
	IntDieTempReady byte = 1 << 1
)

// Mode and control bits.
const (
	ModeHeartRate byte = 0x02
	ModeSpO2      byte = 0x03
	ModeMultiLED  byte = 0x07
	modeMask      byte = 0x07

	ModeReset    byte = 1 << 6
	ModeShutdown byte = 1 << 7

	TempEnable byte = 0x01
)

// FIFO geometry.
const (
	// FIFODepth is the number of sample slots in the device FIFO.
	FIFODepth = 32
	// WordSize is the number of bytes per sample in SpO2 mode: 3 bytes red then
	// 3 bytes infrared.
	WordSize = 6

	ptrMask     = FIFODepth - 1
	ovfMax      = 0x1F
	channelMask = 0x3FFFF
)

// LEDCurrentStepMA is the LED pulse amplitude per register LSB.
const LEDCurrentStepMA = 0.2
