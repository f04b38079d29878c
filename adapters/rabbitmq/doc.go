/*
Package rabbitmq mirrors exported hardbus signals to a RabbitMQ topic exchange.
It includes an auto-reconnect publisher and supports optional header propagation
via a transport.HeaderPropagator.
*/
package rabbitmq
