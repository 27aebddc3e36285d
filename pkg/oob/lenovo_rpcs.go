package oob

// lenovoRPCs are the session RPC functions known to work on Lenovo BMCs, with
// the response object each one fills.
var lenovoRPCs = [][3]string{
	{"getactivedircfg", "Active Directory auth configuration", "WEBVAR_JSONVAR_GETLDAPCFG"},
	{"getallcpuinfo", "Connected CPUs", "WEBVAR_JSONVAR_INVENTORYGETALLCPUINFO"},
	{"getalldimminfo", "Connected DIMMs", "WEBVAR_JSONVAR_INVENTORYGETALLDIMMINFO"},
	{"getalllancfg", "Network configuration of the IPMI interfaces", "WEBVAR_JSONVAR_GETALLNETWORKCFG"},
	{"getallpefcfg", "Event filters", "WEBVAR_JSONVAR_HL_GETPEFTABLE"},
	{"getallsensors", "Status of all IPMI sensors", "WEBVAR_JSONVAR_HL_GETALLSENSORS"},
	{"getalluserinfo", "IPMI users", "WEBVAR_JSONVAR_HL_GETALLUSERINFO"},
	{"getanalysedsel", "Event log with OEM entries decoded", "WEBVAR_JSONVAR_HL_GETANALYSEDSEL"},
	{"getauditlog", "Audit log of connections", "WEBVAR_JSONVAR_GETAUDITLOG"},
	{"getdatetime", "Server time", "WEBVAR_JSONVAR_GETDATETIME"},
	{"getfruinfo", "All FRU devices", "WEBVAR_JSONVAR_HL_GETALLFRUINFO"},
	{"gethddinfo", "Connected disks", "WEBVAR_JSONVAR_GETINVDRIVEINFO"},
	{"gethealthledinfo", "Health LED status", "WEBVAR_JSONVAR_GETHEALTHLEDINFO"},
	{"getimageinfo", "Firmware versions", "WEBVAR_JSONVAR_GETIMAGEINFO"},
	{"getldapcfg", "LDAP auth configuration", "WEBVAR_JSONVAR_GETLDAPCFG"},
	{"getsysteminfo", "BIOS version, serial number and model", "WEBVAR_JSONVAR_GETSYSTEMINFO"},
	{"getuidled", "Identify LED status", "WEBVAR_JSONVAR_HL_LED_IDENTIFY_STATE"},
	{"hoststatus", "Host health", "WEBVAR_JSONVAR_HL_SYSTEM_STATE"},
}

// LenovoRPCs lists the known Lenovo session RPC functions.
func LenovoRPCs() *Table {
	t := NewTable("name", "description", "response_object")
	for _, rpc := range lenovoRPCs {
		t.AddRow(rpc[0], rpc[1], rpc[2])
	}
	return t
}
