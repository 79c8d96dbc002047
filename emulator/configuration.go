package emulator

import (
	"evsim/ocpp/core"
	"evsim/types"
	"evsim/utility"
	"sort"
	"strconv"
	"strings"
)

const (
	KeyHeartbeatInterval          = "HeartbeatInterval"
	KeyMeterValueSampleInterval   = "MeterValueSampleInterval"
	KeyMeterValuesSampledData     = "MeterValuesSampledData"
	KeyStopTxnSampledData         = "StopTxnSampledData"
	KeyNumberOfConnectors         = "NumberOfConnectors"
	KeyLocalAuthListEnabled       = "LocalAuthListEnabled"
	KeyLocalAuthListMaxLength     = "LocalAuthListMaxLength"
	KeySendLocalListMaxLength     = "SendLocalListMaxLength"
	KeyChargeProfileMaxStackLevel = "ChargeProfileMaxStackLevel"
	KeyAuthorizeRemoteTxRequests  = "AuthorizeRemoteTxRequests"
	KeyLocalPreAuthorize          = "LocalPreAuthorize"
	KeyBootIntervalHint           = "BootNotification.intervalHint"
	KeyFirmwareVersion            = "FirmwareVersion"
	KeyWsSecure                   = "WsSecure"
)

type valueKind int

const (
	kindInt valueKind = iota
	kindBool
	kindString
	kindMeasurands
)

type configurationEntry struct {
	kind     valueKind
	readonly bool
	value    string
}

// Configuration is the OCPP key-value table of one charge point.
type Configuration struct {
	entries map[string]*configurationEntry
}

func defaultEntries(connectors int) map[string]*configurationEntry {
	return map[string]*configurationEntry{
		"AllowOfflineTxForUnknownId":        {kind: kindBool, value: "false"},
		"AuthorizationCacheEnabled":         {kind: kindBool, value: "true"},
		KeyAuthorizeRemoteTxRequests:        {kind: kindBool, value: "true"},
		"BlinkRepeat":                       {kind: kindInt, value: "3"},
		"ChargeProfileEnabled":              {kind: kindBool, readonly: true, value: "true"},
		"ClockAlignedDataInterval":          {kind: kindInt, value: "300"},
		"ConnectionTimeOut":                 {kind: kindInt, value: "120"},
		"ConnectorPhaseRotation":            {kind: kindString, value: phaseRotation(connectors)},
		KeyFirmwareVersion:                  {kind: kindString, readonly: true, value: "1.0.0-web"},
		"GetConfigurationMaxKeys":           {kind: kindInt, readonly: true, value: "50"},
		KeyHeartbeatInterval:                {kind: kindInt, value: "60"},
		"LightIntensity":                    {kind: kindInt, value: "50"},
		"LocalAuthorizeOffline":             {kind: kindBool, value: "true"},
		KeyLocalPreAuthorize:                {kind: kindBool, value: "false"},
		"MaxEnergyOnInvalidId":              {kind: kindInt, value: "0"},
		"MeterValuesAlignedData":            {kind: kindMeasurands, value: "Energy.Active.Import.Register"},
		KeyMeterValuesSampledData:           {kind: kindMeasurands, value: "Energy.Active.Import.Register,Power.Active.Import,Current.Offered,Voltage,SoC"},
		KeyMeterValueSampleInterval:         {kind: kindInt, value: "5"},
		"MinimumStatusDuration":             {kind: kindInt, value: "0"},
		KeyNumberOfConnectors:               {kind: kindInt, readonly: true, value: strconv.Itoa(connectors)},
		"ReservationEnabled":                {kind: kindBool, readonly: true, value: "true"},
		"ResetRetries":                      {kind: kindInt, value: "3"},
		"StopTransactionOnEVSideDisconnect": {kind: kindBool, value: "true"},
		"StopTransactionOnInvalidId":        {kind: kindBool, value: "true"},
		"StopTxnAlignedData":                {kind: kindMeasurands, value: "Energy.Active.Import.Register"},
		KeyStopTxnSampledData:               {kind: kindMeasurands, value: "Power.Active.Import,Voltage"},
		"SupportedFeatureProfiles":          {kind: kindString, readonly: true, value: "Core,FirmwareManagement,LocalAuthListManagement,Reservation,SmartCharging,RemoteTrigger"},
		"TransactionMessageAttempts":        {kind: kindInt, value: "3"},
		"TransactionMessageRetryInterval":   {kind: kindInt, value: "10"},
		"UnlockConnectorOnEVSideDisconnect": {kind: kindBool, value: "true"},
		"WebSocketPingInterval":             {kind: kindInt, value: "0"},
		KeyWsSecure:                         {kind: kindBool, readonly: true, value: "false"},
		KeyLocalAuthListEnabled:             {kind: kindBool, value: "true"},
		KeyLocalAuthListMaxLength:           {kind: kindInt, readonly: true, value: "100"},
		KeySendLocalListMaxLength:           {kind: kindInt, readonly: true, value: "100"},
		KeyChargeProfileMaxStackLevel:       {kind: kindInt, readonly: true, value: "10"},
		KeyBootIntervalHint:                 {kind: kindInt, value: "60"},
	}
}

func phaseRotation(connectors int) string {
	items := make([]string, 0, connectors)
	for id := 1; id <= connectors; id++ {
		items = append(items, strconv.Itoa(id)+".RST")
	}
	return strings.Join(items, ",")
}

// NewConfiguration builds the default table; overrides are applied when they fit the key type,
// read-only keys included.
func NewConfiguration(connectors int, overrides map[string]string) *Configuration {
	c := &Configuration{entries: defaultEntries(connectors)}
	for key, value := range overrides {
		if key == KeyNumberOfConnectors {
			continue
		}
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if normalized, valid := normalizeValue(entry.kind, value); valid {
			entry.value = normalized
		}
	}
	return c
}

// Get returns the requested keys, or every key when none are requested.
func (c *Configuration) Get(keys []string) ([]core.ConfigurationKey, []string) {
	if len(keys) == 0 {
		keys = c.Keys()
	}
	known := make([]core.ConfigurationKey, 0, len(keys))
	unknown := make([]string, 0)
	for _, key := range keys {
		entry, ok := c.entries[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		value := entry.value
		known = append(known, core.ConfigurationKey{Key: key, Readonly: entry.readonly, Value: &value})
	}
	return known, unknown
}

// describe sets a read-only key from the device description.
func (c *Configuration) describe(key, value string) {
	if entry, ok := c.entries[key]; ok {
		entry.value = value
	}
}

func (c *Configuration) Set(key, value string) core.ConfigurationStatus {
	entry, ok := c.entries[key]
	if !ok {
		return core.ConfigurationStatusNotSupported
	}
	if entry.readonly {
		return core.ConfigurationStatusRejected
	}
	normalized, valid := normalizeValue(entry.kind, value)
	if !valid {
		return core.ConfigurationStatusRejected
	}
	entry.value = normalized
	return core.ConfigurationStatusAccepted
}

func (c *Configuration) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (c *Configuration) Value(key string) (string, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return entry.value, true
}

func (c *Configuration) Int(key string) int {
	value, _ := c.Value(key)
	n, _ := utility.ToInt(value)
	return n
}

func (c *Configuration) Bool(key string) bool {
	value, _ := c.Value(key)
	return value == "true"
}

func (c *Configuration) Measurands(key string) []types.Measurand {
	value, _ := c.Value(key)
	items := utility.SplitList(value)
	measurands := make([]types.Measurand, 0, len(items))
	for _, item := range items {
		measurands = append(measurands, types.Measurand(item))
	}
	return measurands
}

var supportedMeasurands = []string{
	string(types.MeasurandCurrentImport),
	string(types.MeasurandCurrentOffered),
	string(types.MeasurandEnergyActiveImportRegister),
	string(types.MeasurandPowerActiveImport),
	string(types.MeasurandPowerOffered),
	string(types.MeasurandSoC),
	string(types.MeasurandVoltage),
}

func normalizeValue(kind valueKind, value string) (string, bool) {
	value = strings.TrimSpace(value)
	switch kind {
	case kindInt:
		n, ok := utility.ToInt(value)
		if !ok || n < 0 {
			return "", false
		}
		return strconv.Itoa(n), true
	case kindBool:
		switch strings.ToLower(value) {
		case "true":
			return "true", true
		case "false":
			return "false", true
		}
		return "", false
	case kindMeasurands:
		items := utility.SplitList(value)
		for _, item := range items {
			if !utility.Contains(supportedMeasurands, item) {
				return "", false
			}
		}
		return strings.Join(items, ","), true
	default:
		return value, true
	}
}
