/*
Package codec converts typed values to and from the string payloads carried on the bus.

Every type used in a method or signal signature needs a registered Codec. Lookups are keyed
by reflect.Type; the rest of hardbus never special-cases value types. Decoding a string that
the matching encoder did not produce is undefined: the built-in codecs return the zero value
and report nothing.
*/
package codec
