package loader

// Guest ABI names.
const (
	ExportStart       = "_start"
	ExportInitialize  = "_initialize"
	ExportMemory      = "memory"
	ExportStartUnwind = "asyncify_start_unwind"
	ExportStopUnwind  = "asyncify_stop_unwind"
	ExportStartRewind = "asyncify_start_rewind"
	ExportStopRewind  = "asyncify_stop_rewind"
	ExportGetState    = "asyncify_get_state"
	ExportReadPin     = "wasminoReadPin"
	ExportWritePin    = "wasminoWritePin"
	ExportPinCount    = "wasminoGetPinCount"
	ExportPinMode     = "wasminoGetPinMode"
	ExportSetUptime   = "wasminoSetUptime"
	ExportMalloc      = "malloc"
	ExportFree        = "free"

	ImportModule = "wasmino"
	ImportSleep  = "nanosleep"
)

// asyncifyExports are the functions added by the asyncify transformation.
var asyncifyExports = []string{
	ExportStartUnwind,
	ExportStopUnwind,
	ExportStartRewind,
	ExportStopRewind,
}

// requiredFuncs are the function exports the host cannot run without, with
// their parameter counts.
var requiredFuncs = []struct {
	name   string
	params int
}{
	{ExportStart, 0},
	{ExportStartUnwind, 1},
	{ExportStopUnwind, 0},
	{ExportStartRewind, 1},
	{ExportStopRewind, 0},
	{ExportReadPin, 1},
	{ExportWritePin, 2},
	{ExportPinCount, 0},
	{ExportPinMode, 1},
	{ExportSetUptime, 2},
	{ExportMalloc, 1},
	{ExportFree, 1},
}
