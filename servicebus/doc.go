/*
Package servicebus binds one service description to three runtime roles on a message bus:
an ExportAdaptor that publishes a local implementation, a Proxy that carries calls and signals
from a remote peer, and a Facade that application code holds in place of the real interface.

A service is declared once as a Descriptor listing typed method and signal descriptors
(Method2, Proc1, Signal1, ...). The export side binds those descriptors to implementation
methods with Handle; the facade side calls them with Call. Both sides share the same
descriptor values, so the signatures cannot drift apart.

Bus holds the named transports (session, system, ...) that descriptors select by name.
*/
package servicebus
