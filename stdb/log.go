package stdb

// Logging convention in the `stdb` package:
// Info:
//     essential events for abnormal behavior. This level should be silent
//     on normal operation, with the exception of one time (infrequent)
//     initialization data that is useful for monitoring
//     this includes:
//     - connect/auth failures and reconnect attempts
//     - dropped frames and decode errors
// Error:
//     unrecoverable crash details
// V(2):
//     key events for trace debugging
//     this includes:
//     - per frame send/receive with tags that can be used to filter
//       ([cs] client send, [cr] client receive, [ws] transport)
//     - cache change counts per transaction

// tags used with glog in this package:
//   [c]  connection state machine
//   [cs] client send path
//   [cr] client receive path
//   [ws] websocket transport
//   [ca] cache
//   [api] http collaborator
