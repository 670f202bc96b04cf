// Package kdd describes the NSL-KDD connection corpus: its fixed positional
// layout, the typed record the loader works with, and the file reader.
package kdd

// Column names of the corpus in file order. The files carry no header.
const (
	ColDuration           = "duration"
	ColProtocolType       = "protocol_type"
	ColService            = "service"
	ColFlag               = "flag"
	ColSrcBytes           = "src_bytes"
	ColDstBytes           = "dst_bytes"
	ColLand               = "land"
	ColLoggedIn           = "logged_in"
	ColCount              = "count"
	ColSrvCount           = "srv_count"
	ColSerrorRate         = "serror_rate"
	ColRerrorRate         = "rerror_rate"
	ColSameSrvRate        = "same_srv_rate"
	ColDiffSrvRate        = "diff_srv_rate"
	ColDstHostCount       = "dst_host_count"
	ColDstHostSrvCount    = "dst_host_srv_count"
	ColDstHostSameSrvRate = "dst_host_same_srv_rate"
	ColDstHostDiffSrvRate = "dst_host_diff_srv_rate"
	ColDstHostSerrorRate  = "dst_host_serror_rate"
	ColLabel              = "label"
	ColDifficultyLevel    = "difficulty_level"
)

// FullColumns is the 43-column positional layout of KDDTrain+/KDDTest+.
var FullColumns = []string{
	ColDuration, ColProtocolType, ColService, ColFlag, ColSrcBytes, ColDstBytes,
	ColLand, "wrong_fragment", "urgent", "hot", "num_failed_logins", ColLoggedIn,
	"num_compromised", "root_shell", "su_attempted", "num_root", "num_file_creations",
	"num_shells", "num_access_files", "num_outbound_cmds", "is_host_login",
	"is_guest_login", ColCount, ColSrvCount, ColSerrorRate, "srv_serror_rate",
	ColRerrorRate, "srv_rerror_rate", ColSameSrvRate, ColDiffSrvRate,
	"srv_diff_host_rate", ColDstHostCount, ColDstHostSrvCount,
	ColDstHostSameSrvRate, ColDstHostDiffSrvRate,
	"dst_host_same_src_port_rate", "dst_host_srv_diff_host_rate",
	ColDstHostSerrorRate, "dst_host_srv_serror_rate",
	"dst_host_rerror_rate", "dst_host_srv_rerror_rate", ColLabel, ColDifficultyLevel,
}

// LoadColumns is the subset of FullColumns the loader reads, in the order
// Decode expects them.
var LoadColumns = []string{
	ColDuration, ColSrcBytes, ColLand, ColLoggedIn, ColCount, ColSrvCount,
	ColSerrorRate, ColRerrorRate, ColSameSrvRate, ColDiffSrvRate,
	ColDstHostCount, ColDstHostSrvCount, ColDifficultyLevel,
	ColProtocolType, ColService, ColFlag, ColLabel,
	ColDstBytes, ColDstHostSameSrvRate, ColDstHostDiffSrvRate, ColDstHostSerrorRate,
}

// DestinationColumns are the six columns forming a destination profile, in
// the order used by DestinationKey.Values.
var DestinationColumns = []string{
	ColDstBytes, ColDstHostCount, ColDstHostSrvCount,
	ColDstHostSameSrvRate, ColDstHostDiffSrvRate, ColDstHostSerrorRate,
}
