package wbxml

// tagTable maps a tag name to its single-byte code (low 6 bits) within one
// codepage. Codes below are taken from MS-ASWBXML §2.2 for the subset of
// tokens §4.1 requires; unused codes in a page are simply absent.
type tagTable map[string]byte

// reverseTagTable maps a code back to its tag name for decoding.
type reverseTagTable map[byte]string

var tagTables = map[Codepage]tagTable{
	CPAirSync: {
		"Sync":           0x05,
		"Responses":      0x06,
		"Add":            0x07,
		"Change":         0x08,
		"Delete":         0x09,
		"Fetch":          0x0A,
		"SyncKey":        0x0B,
		"ClientId":       0x0C,
		"ServerId":       0x0D,
		"Status":         0x0E,
		"Collection":     0x0F,
		"Class":          0x10,
		"CollectionId":   0x12,
		"GetChanges":     0x13,
		"MoreAvailable":  0x14,
		"WindowSize":     0x15,
		"Commands":       0x16,
		"Options":        0x17,
		"Collections":    0x1C,
		"ApplicationData": 0x1D,
	},
	CPEmail: {
		"Subject":      0x0F,
		"From":         0x11,
		"To":           0x12,
		"DateReceived": 0x18,
		"MessageClass": 0x19,
		"Read":         0x24,
		"InternetCPID": 0x26,
	},
	CPAirSyncBase: {
		"Body":            0x0A,
		"Data":            0x0B,
		"EstimatedDataSize": 0x0C,
		"Truncated":       0x0D,
		"Type":            0x06,
		"ContentType":     0x17,
		"NativeBodyType":  0x16,
		"BodyPreference":  0x1B,
		"TruncationSize":  0x07,
		"AllOrNone":       0x08,
	},
	CPFolderHierarchy: {
		"FolderSync":  0x16,
		"Status":      0x0C,
		"SyncKey":     0x08,
		"Changes":     0x09,
		"Count":       0x0E,
		"Add":         0x0A,
		"ServerId":    0x0B,
		"ParentId":    0x0D,
		"DisplayName": 0x07,
		"Type":        0x0F,
	},
	CPProvision: {
		"Provision":      0x05,
		"Policies":       0x06,
		"Policy":         0x07,
		"PolicyType":     0x08,
		"PolicyKey":      0x09,
		"Data":           0x0A,
		"Status":         0x0B,
		"EASProvisionDoc": 0x0C,

		"DevicePasswordEnabled":                     0x0D,
		"AlphanumericDevicePasswordRequired":        0x0E,
		"PasswordRecoveryEnabled":                   0x0F,
		"RequireDeviceEncryption":                   0x13,
		"AttachmentsEnabled":                        0x14,
		"MinDevicePasswordLength":                   0x15,
		"MaxInactivityTimeDeviceLock":                0x16,
		"MaxDevicePasswordFailedAttempts":            0x17,
		"MaxEmailAgeFilter":                          0x53,
		"AllowSimpleDevicePassword":                  0x19,
		"MaxAttachmentSize":                          0x5A,
		"AllowStorageCard":                           0x1A,
		"AllowCamera":                                0x1B,
		"AllowUnsignedApplications":                  0x1C,
		"AllowUnsignedInstallationPackages":          0x1D,
		"MinDevicePasswordComplexCharacters":         0x1E,
		"AllowWiFi":                                  0x1F,
		"AllowTextMessaging":                         0x20,
		"AllowPOPIMAPEmail":                          0x21,
		"AllowBluetooth":                             0x22,
		"AllowIrDA":                                  0x23,
		"RequireManualSyncWhenRoaming":               0x24,
		"AllowDesktopSync":                           0x25,
		"MaxCalendarAgeFilter":                       0x26,
		"AllowHTMLEmail":                              0x27,
		"MaxEmailBodyTruncationSize":                 0x28,
		"MaxEmailHTMLBodyTruncationSize":              0x29,
		"RequireSignedSMIMEMessages":                 0x2A,
		"RequireEncryptedSMIMEMessages":               0x2B,
		"RequireSignedSMIMEAlgorithm":                 0x2C,
		"RequireEncryptionSMIMEAlgorithm":             0x2D,
		"AllowSMIMEEncryptionAlgorithmNegotiation":    0x2E,
		"AllowSMIMESoftCerts":                         0x2F,
		"AllowBrowser":                                0x30,
		"AllowConsumerEmail":                          0x31,
		"AllowRemoteDesktop":                          0x32,
		"AllowInternetSharing":                        0x33,
	},
	CPPing: {
		"Ping":              0x05,
		"Status":            0x06,
		"Folders":           0x09,
		"Folder":            0x0A,
		"Id":                0x0B,
		"Class":             0x0C,
		"HeartbeatInterval": 0x0D,
	},
	CPSettings: {
		"Settings":          0x05,
		"Status":            0x06,
		"DeviceInformation": 0x0B,
		"Oof":               0x14,
		"UserInformation":   0x1B,
	},
	CPItemOperations: {
		"ItemOperations": 0x05,
		"Fetch":          0x06,
		"Properties":     0x0B,
		"Status":         0x0D,
		"Response":       0x0E,
	},
}

var reverseTagTables = buildReverseTables()

func buildReverseTables() map[Codepage]reverseTagTable {
	out := make(map[Codepage]reverseTagTable, len(tagTables))
	for cp, table := range tagTables {
		rev := make(reverseTagTable, len(table))
		for name, code := range table {
			rev[code] = name
		}
		out[cp] = rev
	}
	return out
}

func lookupTag(cp Codepage, name string) (byte, error) {
	table, ok := tagTables[cp]
	if !ok {
		return 0, ErrUnknownTag
	}
	code, ok := table[name]
	if !ok {
		return 0, ErrUnknownTag
	}
	return code, nil
}

func lookupName(cp Codepage, code byte) (string, bool) {
	rev, ok := reverseTagTables[cp]
	if !ok {
		return "", false
	}
	name, ok := rev[code]
	return name, ok
}
