package simulation

const (
	logMsgSetupDone      = "simulation setup done"
	logMsgRunStarted     = "simulation started"
	logMsgStats          = "simulation stats"
	logMsgScenarioFailed = "simulation scenario failed"
	logAttrMembers       = "members"
	logAttrBooks         = "books"
	logAttrRate          = "rate"
	logAttrBatch         = "batch_size"
	logAttrInterval      = "batch_interval"
	logAttrWorkers       = "workers"
	logAttrRequests      = "requests"
	logAttrBackpressure  = "backpressure"
	logAttrActualRate    = "actual_rate"
	logAttrElapsed       = "elapsed"
	logAttrScenario      = "scenario"
	logAttrError         = "error"
)
