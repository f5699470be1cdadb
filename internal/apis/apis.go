package apis

import (
	"github.com/godbus/dbus/v5"
)

const (
	ObjectName        = "org.freedesktop.portal.Desktop"
	ObjectPath        = "/org/freedesktop/portal/desktop"
	CallBaseName      = "org.freedesktop.portal"
	PropertiesGetName = "org.freedesktop.DBus.Properties.Get"
)

func Call(callName string, args ...any) (any, error) {
	call, err := callOnObject(ObjectPath, callName, args...)
	if err != nil {
		return nil, err
	}

	var result any
	err = call.Store(&result)
	return result, err
}

func CallOnObject(path dbus.ObjectPath, callName string, args ...any) error {
	_, err := callOnObject(path, callName, args...)
	return err
}

func callOnObject(path dbus.ObjectPath, callName string, args ...any) (*dbus.Call, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		debugf("session_bus_failed call=%q err=%v", callName, err)
		return nil, err
	}

	obj := conn.Object(ObjectName, path)
	call := obj.Call(callName, 0, args...)
	if call.Err != nil {
		debugf("call_failed path=%q call=%q err=%v", path, callName, call.Err)
	}
	return call, call.Err
}

func GetProperty(interfaceName, property string) (any, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		debugf("session_bus_failed property=%s.%s err=%v", interfaceName, property, err)
		return nil, err
	}

	obj := conn.Object(ObjectName, ObjectPath)
	call := obj.Call(PropertiesGetName, 0, interfaceName, property)
	if call.Err != nil {
		debugf("get_property_failed property=%s.%s err=%v", interfaceName, property, call.Err)
		return nil, call.Err
	}

	var value any
	err = call.Store(&value)
	return value, err
}

func ListenOnSignal(path dbus.ObjectPath, iface, signalName string) (chan *dbus.Signal, error) {
	_, signal, err := ListenOnSignalWithConn(path, iface, signalName)
	return signal, err
}

func ListenOnSignalWithConn(path dbus.ObjectPath, iface, signalName string) (*dbus.Conn, chan *dbus.Signal, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		debugf("session_bus_failed signal=%s.%s err=%v", iface, signalName, err)
		return nil, nil, err
	}
	if path == "" {
		path = ObjectPath
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(signalName),
	); err != nil {
		debugf("add_match_failed path=%q signal=%s.%s err=%v", path, iface, signalName, err)
		return nil, nil, err
	}

	debugf("listening path=%q signal=%s.%s", path, iface, signalName)
	signal := make(chan *dbus.Signal)
	conn.Signal(signal)
	return conn, signal, nil
}
